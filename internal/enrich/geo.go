package enrich

import (
	"log/slog"
	"net"
	"strconv"

	"github.com/oschwald/maxminddb-golang"
	"github.com/smartpixl/forge/internal/record"
)

// geoCityRecord mirrors the subset of MaxMind's City database schema
// this enricher reads. Field names match the GeoIP2-City field layout.
type geoCityRecord struct {
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
	Subdivisions []struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"subdivisions"`
	City struct {
		Names map[string]string `maxminddb:"names"`
	} `maxminddb:"city"`
	Location struct {
		Latitude  float64 `maxminddb:"latitude"`
		Longitude float64 `maxminddb:"longitude"`
		TimeZone  string  `maxminddb:"time_zone"`
	} `maxminddb:"location"`
}

type geoASNRecord struct {
	AutonomousSystemNumber       uint   `maxminddb:"autonomous_system_number"`
	AutonomousSystemOrganization string `maxminddb:"autonomous_system_organization"`
}

// geoCountryRecord mirrors the subset of MaxMind's Country database
// schema this enricher reads as a fallback when the City database has
// no entry for an IP.
type geoCountryRecord struct {
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
}

// Geo resolves an IP address to country/region/city/ASN using offline,
// memory-mapped MaxMind databases. Step 4 of the enrichment chain.
// Absent database files degrade gracefully: each lookup is independently
// optional, matching spec.md's "offline, best-effort" geo requirement.
type Geo struct {
	city    *maxminddb.Reader
	asn     *maxminddb.Reader
	country *maxminddb.Reader
	log     *slog.Logger
}

// NewGeo opens up to three .mmdb files (cityPath, asnPath, countryPath);
// any path may be empty to skip that database. countryPath backs a
// fallback lookup per spec.md §4.4.4 when the City database has no
// country for an IP (the Country database covers a broader IP range
// than City). Returns an error only if an explicitly supplied path
// fails to open.
func NewGeo(cityPath, asnPath, countryPath string, log *slog.Logger) (*Geo, error) {
	if log == nil {
		log = slog.Default()
	}
	g := &Geo{log: log.With("component", "geo")}

	if cityPath != "" {
		r, err := maxminddb.Open(cityPath)
		if err != nil {
			return nil, err
		}
		g.city = r
	}
	if asnPath != "" {
		r, err := maxminddb.Open(asnPath)
		if err != nil {
			return nil, err
		}
		g.asn = r
	}
	if countryPath != "" {
		r, err := maxminddb.Open(countryPath)
		if err != nil {
			return nil, err
		}
		g.country = r
	}
	return g, nil
}

// Close releases the underlying memory-mapped database files.
func (g *Geo) Close() {
	if g.city != nil {
		_ = g.city.Close()
	}
	if g.asn != nil {
		_ = g.asn.Close()
	}
	if g.country != nil {
		_ = g.country.Close()
	}
}

// Apply appends country, region, city, lat/long, timezone, and ASN
// fields when the corresponding database is loaded and the IP resolves.
func (g *Geo) Apply(maxLen int, r *record.TrackingRecord) {
	ip := net.ParseIP(r.IPAddress)
	if ip == nil {
		return
	}

	gotCountry := false
	if g.city != nil {
		var rec geoCityRecord
		if err := g.city.Lookup(ip, &rec); err == nil {
			if rec.Country.ISOCode != "" {
				r.AppendServer(maxLen, "geoCountry", rec.Country.ISOCode)
				gotCountry = true
			}
			if len(rec.Subdivisions) > 0 && rec.Subdivisions[0].ISOCode != "" {
				r.AppendServer(maxLen, "geoRegion", rec.Subdivisions[0].ISOCode)
			}
			if name := rec.City.Names["en"]; name != "" {
				r.AppendServer(maxLen, "geoCity", name)
			}
			if rec.Location.TimeZone != "" {
				r.AppendServer(maxLen, "geoTimezone", rec.Location.TimeZone)
			}
			if rec.Location.Latitude != 0 || rec.Location.Longitude != 0 {
				r.AppendServer(maxLen, "geoLat", strconv.FormatFloat(rec.Location.Latitude, 'f', -1, 64))
				r.AppendServer(maxLen, "geoLon", strconv.FormatFloat(rec.Location.Longitude, 'f', -1, 64))
			}
		}
	}

	if !gotCountry && g.country != nil {
		var rec geoCountryRecord
		if err := g.country.Lookup(ip, &rec); err == nil && rec.Country.ISOCode != "" {
			r.AppendServer(maxLen, "geoCountry", rec.Country.ISOCode)
		}
	}

	if g.asn != nil {
		var rec geoASNRecord
		if err := g.asn.Lookup(ip, &rec); err == nil && rec.AutonomousSystemNumber != 0 {
			r.AppendServerInt(maxLen, "geoASN", int64(rec.AutonomousSystemNumber))
			if rec.AutonomousSystemOrganization != "" {
				r.AppendServer(maxLen, "geoASNOrg", rec.AutonomousSystemOrganization)
			}
		}
	}
}
