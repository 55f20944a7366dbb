package patterns

import (
	"regexp"

	"github.com/mariia-hub/apiguard/internal/core"
)

// TableVersion identifies the signature table revision carried in events so
// detections can be traced back to the table that produced them.
const TableVersion = "2025.08"

// Category classifies a threat signature. The set is closed; detectors switch
// exhaustively over it.
type Category string

const (
	CategorySQL           Category = "sql_injection"
	CategoryNoSQL         Category = "nosql_injection"
	CategoryCommand       Category = "command_injection"
	CategoryLDAP          Category = "ldap_injection"
	CategoryXML           Category = "xml_injection"
	CategoryTemplate      Category = "template_injection"
	CategoryCode          Category = "code_injection"
	CategoryXSS           Category = "xss"
	CategoryPathTraversal Category = "path_traversal"
	CategorySSRF          Category = "ssrf"
)

// AllCategories lists every category in the closed set.
var AllCategories = []Category{
	CategorySQL, CategoryNoSQL, CategoryCommand, CategoryLDAP, CategoryXML,
	CategoryTemplate, CategoryCode, CategoryXSS, CategoryPathTraversal,
	CategorySSRF,
}

// Signature is a compiled detection pattern. Signatures are immutable after
// construction.
type Signature struct {
	Name     string
	Category Category
	Severity core.Severity
	Regex    *regexp.Regexp
}

func compileSignatures() []Signature {
	return []Signature{
		// SQL injection
		{Name: "sql_union", Category: CategorySQL, Severity: core.SeverityHigh,
			Regex: regexp.MustCompile(`(?i)(\bunion\b\s+(all\s+)?select\b)`)},
		{Name: "sql_or_true", Category: CategorySQL, Severity: core.SeverityHigh,
			Regex: regexp.MustCompile(`(?i)(\bor\b\s+[\d'"]+=\s*[\d'"]+|'\s*or\s*'[^']*'\s*=\s*'[^']*')`)},
		{Name: "sql_comment", Category: CategorySQL, Severity: core.SeverityMedium,
			Regex: regexp.MustCompile(`(?i)(--|#|/\*.*?\*/)\s*$|(--|#)\s`)},
		{Name: "sql_stacked", Category: CategorySQL, Severity: core.SeverityCritical,
			Regex: regexp.MustCompile(`(?i);\s*(drop|alter|truncate|delete\s+from|update\s+\w+\s+set|insert\s+into|create|exec|execute)\b`)},
		{Name: "sql_time_based", Category: CategorySQL, Severity: core.SeverityHigh,
			Regex: regexp.MustCompile(`(?i)(sleep\s*\(\s*\d+\s*\)|benchmark\s*\(\s*\d+|waitfor\s+delay\s+')`)},
		{Name: "sql_file_access", Category: CategorySQL, Severity: core.SeverityHigh,
			Regex: regexp.MustCompile(`(?i)(extractvalue|updatexml|load_file|into\s+(out|dump)file)\s*\(`)},
		{Name: "sql_schema_probe", Category: CategorySQL, Severity: core.SeverityCritical,
			Regex: regexp.MustCompile(`(?i)(information_schema|sys\.objects|sysobjects|syscolumns|pg_catalog)`)},
		{Name: "sql_hex_encode", Category: CategorySQL, Severity: core.SeverityHigh,
			Regex: regexp.MustCompile(`(?i)(0x[0-9a-f]{8,}|char\s*\(\s*\d+(\s*,\s*\d+)+\s*\))`)},

		// NoSQL injection
		{Name: "nosql_operator", Category: CategoryNoSQL, Severity: core.SeverityHigh,
			Regex: regexp.MustCompile(`(?i)(\$gt|\$lt|\$gte|\$lte|\$ne|\$nin|\$in|\$regex|\$where|\$exists|\$or|\$and|\$not|\$nor)\b`)},
		{Name: "nosql_js_exec", Category: CategoryNoSQL, Severity: core.SeverityCritical,
			Regex: regexp.MustCompile(`(?i)(\$where\s*:\s*['"]?function|this\.\w+\s*==|db\.\w+\.(find|remove|update|drop|insert))`)},
		{Name: "nosql_json_inject", Category: CategoryNoSQL, Severity: core.SeverityHigh,
			Regex: regexp.MustCompile(`(?i)\{\s*['"]\$\w+['"]\s*:`)},

		// Command injection
		{Name: "cmd_pipe", Category: CategoryCommand, Severity: core.SeverityCritical,
			Regex: regexp.MustCompile(`(\||\|\||&&|;|` + "`" + `)\s*(cat|ls|dir|whoami|id|uname|pwd|wget|curl|nc|ncat|bash|sh|cmd|powershell|python|perl|ruby|php)\b`)},
		{Name: "cmd_subshell", Category: CategoryCommand, Severity: core.SeverityCritical,
			Regex: regexp.MustCompile(`\$\((cat|ls|whoami|id|uname|pwd|wget|curl|nc|bash|sh)\b`)},
		{Name: "cmd_backtick", Category: CategoryCommand, Severity: core.SeverityCritical,
			Regex: regexp.MustCompile("`(cat|ls|whoami|id|uname|pwd|wget|curl|nc|bash|sh)\\b")},
		{Name: "cmd_redirect", Category: CategoryCommand, Severity: core.SeverityHigh,
			Regex: regexp.MustCompile(`(>\s*/etc/|>\s*/tmp/|<\s*/etc/passwd|/dev/(tcp|udp)/)`)},
		{Name: "cmd_reverse_shell", Category: CategoryCommand, Severity: core.SeverityCritical,
			Regex: regexp.MustCompile(`(?i)(bash\s+-i\s+>&|nc\s+-[elp]|ncat\s+-|python\s+-c\s+.*socket|perl\s+-e\s+.*socket|ruby\s+-rsocket|php\s+-r\s+.*fsockopen)`)},

		// LDAP injection
		{Name: "ldap_wildcard", Category: CategoryLDAP, Severity: core.SeverityHigh,
			Regex: regexp.MustCompile(`(?i)(\*\)\(&|\)\(\||\)\(!\(|%2a%29%28)`)},
		{Name: "ldap_filter", Category: CategoryLDAP, Severity: core.SeverityHigh,
			Regex: regexp.MustCompile(`(?i)(\(\||\(&|\(!\s*\().*?(uid|cn|sn|mail|objectclass)\s*=`)},

		// XML / XXE
		{Name: "xml_doctype_entity", Category: CategoryXML, Severity: core.SeverityCritical,
			Regex: regexp.MustCompile(`(?i)<!DOCTYPE[^>]*\[|<!ENTITY\s+\S+\s+(SYSTEM|PUBLIC)`)},
		{Name: "xml_external_ref", Category: CategoryXML, Severity: core.SeverityHigh,
			Regex: regexp.MustCompile(`(?i)<!ENTITY[^>]*>|&\w+;.*<!`)},
		{Name: "xml_cdata_script", Category: CategoryXML, Severity: core.SeverityMedium,
			Regex: regexp.MustCompile(`(?i)<!\[CDATA\[.*(<script|javascript:)`)},

		// Template injection
		{Name: "template_jinja", Category: CategoryTemplate, Severity: core.SeverityCritical,
			Regex: regexp.MustCompile(`\{\{.*?(__|class|mro|subclasses|builtins|import|popen|system|eval|exec|getattr).*?\}\}`)},
		{Name: "template_expression", Category: CategoryTemplate, Severity: core.SeverityHigh,
			Regex: regexp.MustCompile(`(\$\{.*?(Runtime|ProcessBuilder|exec|getClass).*?\}|#\{.*?(T\(|new\s+java).*?\})`)},
		{Name: "template_freemarker", Category: CategoryTemplate, Severity: core.SeverityCritical,
			Regex: regexp.MustCompile(`(?i)(<#assign|<@|\$\{.*?\.getClass\(\))`)},
		{Name: "template_twig", Category: CategoryTemplate, Severity: core.SeverityHigh,
			Regex: regexp.MustCompile(`\{\{.*?(system|passthru|exec|popen|file_get_contents).*?\}\}`)},

		// Code injection
		{Name: "code_eval", Category: CategoryCode, Severity: core.SeverityCritical,
			Regex: regexp.MustCompile(`(?i)\b(eval|exec|execfile|compile|Function)\s*\(`)},
		{Name: "code_import", Category: CategoryCode, Severity: core.SeverityHigh,
			Regex: regexp.MustCompile(`(?i)(__import__\s*\(|require\s*\(\s*['"]child_process['"]|import\s+os\s*;)`)},
		{Name: "code_deserialize", Category: CategoryCode, Severity: core.SeverityCritical,
			Regex: regexp.MustCompile(`(?i)(pickle\.loads|yaml\.load\s*\(|ObjectInputStream|unserialize\s*\(|Marshal\.load)`)},

		// XSS
		{Name: "xss_script_tag", Category: CategoryXSS, Severity: core.SeverityHigh,
			Regex: regexp.MustCompile(`(?i)<\s*script[^>]*>`)},
		{Name: "xss_event_handler", Category: CategoryXSS, Severity: core.SeverityHigh,
			Regex: regexp.MustCompile(`(?i)\bon(error|load|click|mouseover|focus|blur|submit|change|input|keyup|keydown|mouseout|dblclick|contextmenu|drag|drop)\s*=`)},
		{Name: "xss_javascript_uri", Category: CategoryXSS, Severity: core.SeverityHigh,
			Regex: regexp.MustCompile(`(?i)(javascript|vbscript)\s*:`)},
		{Name: "xss_data_uri", Category: CategoryXSS, Severity: core.SeverityMedium,
			Regex: regexp.MustCompile(`(?i)data\s*:\s*[^,]*(script|html|base64)`)},
		{Name: "xss_tag_src", Category: CategoryXSS, Severity: core.SeverityMedium,
			Regex: regexp.MustCompile(`(?i)<\s*(img|iframe|embed|object|svg|math|video|audio|source)\b[^>]*(src|href|data|action)\s*=`)},
		{Name: "xss_dom_sink", Category: CategoryXSS, Severity: core.SeverityHigh,
			Regex: regexp.MustCompile(`(?i)(document\.(cookie|write|location|domain)|window\.(location|open)|\.innerHTML\s*=)`)},

		// Path traversal
		{Name: "path_dotdot", Category: CategoryPathTraversal, Severity: core.SeverityHigh,
			Regex: regexp.MustCompile(`(?i)(\.\.[\\/]|%2e%2e[\\/]|%252e%252e[\\/]|\.\.%2f|%2e%2e%2f)`)},
		{Name: "path_sensitive_files", Category: CategoryPathTraversal, Severity: core.SeverityCritical,
			Regex: regexp.MustCompile(`(?i)(/etc/(passwd|shadow|hosts|crontab)|/proc/self/|/windows/system32/|web\.config|\.env\b|\.git/config|\.htaccess|wp-config\.php)`)},
		{Name: "path_null_byte", Category: CategoryPathTraversal, Severity: core.SeverityHigh,
			Regex: regexp.MustCompile(`(%00|\\x00|\\0)`)},

		// SSRF
		{Name: "ssrf_internal_ip", Category: CategorySSRF, Severity: core.SeverityHigh,
			Regex: regexp.MustCompile(`(?i)(https?://)(127\.\d+\.\d+\.\d+|10\.\d+\.\d+\.\d+|172\.(1[6-9]|2\d|3[01])\.\d+\.\d+|192\.168\.\d+\.\d+|0\.0\.0\.0|localhost|0x7f|2130706433)`)},
		{Name: "ssrf_cloud_metadata", Category: CategorySSRF, Severity: core.SeverityCritical,
			Regex: regexp.MustCompile(`(?i)(169\.254\.169\.254|metadata\.google\.internal|100\.100\.100\.200)`)},
		{Name: "ssrf_file_scheme", Category: CategorySSRF, Severity: core.SeverityHigh,
			Regex: regexp.MustCompile(`(?i)(file|gopher|dict|tftp)://`)},
		{Name: "ssrf_oob_callback", Category: CategorySSRF, Severity: core.SeverityHigh,
			Regex: regexp.MustCompile(`(?i)(\.burpcollaborator\.net|\.oastify\.com|\.interact\.sh|\.requestbin\.|\.ngrok\.)`)},
	}
}
