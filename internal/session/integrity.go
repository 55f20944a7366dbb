package session

import "time"

// Validate runs the ordered integrity checks for one session touch. Hard
// failures short-circuit; soft flags accumulate. On success the stored
// baseline's activity and usage are advanced.
func (c *Checker) Validate(sessionID, ip, userAgent, country string) Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, ok := c.sessions.Get(sessionID)
	if !ok {
		return Result{Valid: false, Issues: []string{IssueUnknownSession}}
	}

	now := c.now()

	if d.State == StateRevoked {
		return Result{Valid: false, Issues: []string{IssueRevoked}}
	}
	if d.State == StateExpired || now.After(d.ExpiresAt) {
		d.State = StateExpired
		return Result{Valid: false, Issues: []string{IssueExpired}}
	}
	if c.cfg.MaxInactivity > 0 {
		idle := now.Sub(d.LastActivity)
		if idle < 0 {
			idle = 0
		}
		if idle > c.cfg.MaxInactivity {
			d.State = StateExpired
			return Result{Valid: false, Issues: []string{IssueInactiveTooLong}}
		}
	}

	res := Result{Valid: true}

	if ip != "" && d.IP != "" && ip != d.IP {
		res.Suspicious = true
		res.Issues = append(res.Issues, IssueIPChanged)
		if c.impossibleTravel(d, country, now) {
			res.Issues = append(res.Issues, IssueImpossibleTravel)
			res.ForceReauth = true
		}
	}
	if userAgent != "" && d.UserAgent != "" && userAgent != d.UserAgent {
		res.Suspicious = true
		res.Issues = append(res.Issues, IssueUAChanged)
	}

	// Replay and usage limits count this touch.
	d.UsageCount++
	if d.SingleUse && d.UsageCount > 1 {
		d.State = StateRevoked
		return Result{Valid: false, Issues: append(res.Issues, IssueSingleUseReplay)}
	}
	if !d.SingleUse && c.cfg.MaxUsage > 0 && d.UsageCount > c.cfg.MaxUsage {
		d.State = StateRevoked
		return Result{Valid: false, Issues: append(res.Issues, IssueUsageExceeded)}
	}

	if res.Suspicious {
		d.State = StateFlaggedSuspicious
	}

	// Advance the baseline to the observed values.
	d.LastActivity = now
	if ip != "" {
		d.IP = ip
	}
	if userAgent != "" {
		d.UserAgent = userAgent
	}
	if country != "" {
		d.Country = country
	}

	return res
}

// impossibleTravel reports whether the move from the stored country to the
// observed one implies a travel speed over the configured maximum. Unknown
// countries fall back to a short-interval heuristic. Caller holds c.mu.
func (c *Checker) impossibleTravel(d *Descriptor, country string, now time.Time) bool {
	delta := now.Sub(d.LastActivity)
	if delta < 0 {
		delta = 0
	}

	if d.Country == "" || country == "" || d.Country == country {
		return false
	}

	prevLat, prevLon, prevOk := countryCentroid(d.Country)
	curLat, curLon, curOk := countryCentroid(country)
	if !prevOk || !curOk {
		// Countries changed but at least one is unknown: treat a near
		// instant hop as impossible.
		return delta < 5*time.Minute
	}

	distKm := haversineDistance(prevLat, prevLon, curLat, curLon)
	maxKm := delta.Hours() * c.cfg.MaxTravelSpeedKmh
	return distKm > maxKm && distKm > 500
}
