package session

import "math"

func haversineDistance(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

// countryCentroid returns an approximate centroid for an ISO 3166-1 alpha-2
// country code. Good enough for impossible-travel checks, which only care
// about continental-scale distances.
func countryCentroid(code string) (lat, lon float64, ok bool) {
	centroids := map[string][2]float64{
		"US": {39.8, -98.5}, "CN": {35.9, 104.2}, "IN": {20.6, 78.9},
		"BR": {-14.2, -51.9}, "RU": {61.5, 105.3}, "JP": {36.2, 138.3},
		"DE": {51.2, 10.5}, "GB": {55.4, -3.4}, "FR": {46.2, 2.2},
		"KR": {35.9, 127.8}, "CA": {56.1, -106.3}, "IT": {41.9, 12.6},
		"AU": {-25.3, 133.8}, "ES": {40.5, -3.7}, "MX": {23.6, -102.6},
		"ID": {-0.8, 113.9}, "NL": {52.1, 5.3}, "TR": {39.0, 35.2},
		"SA": {23.9, 45.1}, "CH": {46.8, 8.2}, "PL": {51.9, 19.1},
		"SE": {60.1, 18.6}, "BE": {50.5, 4.5}, "TH": {15.9, 100.9},
		"AT": {47.5, 14.6}, "NO": {60.5, 8.5}, "IL": {31.0, 34.9},
		"NG": {9.1, 8.7}, "ZA": {-30.6, 22.9}, "AR": {-38.4, -63.6},
		"EG": {26.8, 30.8}, "PH": {12.9, 121.8}, "MY": {4.2, 101.9},
		"SG": {1.4, 103.8}, "AE": {23.4, 53.8}, "IE": {53.1, -8.2},
		"DK": {56.3, 9.5}, "FI": {61.9, 25.7}, "PT": {39.4, -8.2},
		"CZ": {49.8, 15.5}, "RO": {45.9, 25.0}, "NZ": {-40.9, 174.9},
		"CL": {-35.7, -71.5}, "CO": {4.6, -74.3}, "UA": {48.4, 31.2},
		"PK": {30.4, 69.3}, "VN": {14.1, 108.3}, "HK": {22.4, 114.1},
		"TW": {23.7, 121.0}, "BD": {23.7, 90.4}, "PE": {-9.2, -75.0},
	}
	if c, found := centroids[code]; found {
		return c[0], c[1], true
	}
	return 0, 0, false
}
