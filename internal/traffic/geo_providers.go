package traffic

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"github.com/oschwald/geoip2-golang"
)

var datacenterRegex = regexp.MustCompile(`(?i)(amazon|google|microsoft|digitalocean|linode|hetzner|ovh|vultr|ibm|alibaba|tencent|cloudflare|rackspace|hostinger|upcloud|azure|gcp|aws)`)

// IPAPIProvider resolves addresses through the free ip-api.com endpoint.
type IPAPIProvider struct {
	client  *http.Client
	baseURL string
}

func NewIPAPIProvider() *IPAPIProvider {
	return &IPAPIProvider{
		client:  &http.Client{Timeout: 5 * time.Second},
		baseURL: "http://ip-api.com/json",
	}
}

type ipAPIResponse struct {
	Status  string `json:"status"`
	Country string `json:"country"`
	City    string `json:"city"`
	ISP     string `json:"isp"`
	Proxy   bool   `json:"proxy"`
	Hosting bool   `json:"hosting"`
}

func (p *IPAPIProvider) Lookup(ctx context.Context, ip string) (GeoInfo, error) {
	endpoint := fmt.Sprintf("%s/%s?fields=status,country,city,isp,proxy,hosting", p.baseURL, url.PathEscape(ip))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return GeoInfo{}, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return GeoInfo{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return GeoInfo{}, fmt.Errorf("ip-api returned status %d", resp.StatusCode)
	}

	var body ipAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return GeoInfo{}, err
	}
	if body.Status != "success" {
		return GeoInfo{}, fmt.Errorf("ip-api could not resolve %s", ip)
	}

	info := GeoInfo{
		Country: body.Country,
		City:    body.City,
		IsVPN:   body.Proxy || body.Hosting,
	}
	if info.IsVPN {
		info.Provider = body.ISP
	}
	return info, nil
}

// GeoLiteProvider resolves addresses from local MaxMind databases, so
// lookups stay off the network. The ASN organization classifies datacenter
// egress as VPN traffic.
type GeoLiteProvider struct {
	city *geoip2.Reader
	asn  *geoip2.Reader
}

// NewGeoLiteProvider opens the city database and, optionally, the ASN
// database. An empty asnPath disables VPN classification.
func NewGeoLiteProvider(cityPath, asnPath string) (*GeoLiteProvider, error) {
	city, err := geoip2.Open(cityPath)
	if err != nil {
		return nil, fmt.Errorf("open city database: %w", err)
	}

	provider := &GeoLiteProvider{city: city}
	if asnPath != "" {
		asn, err := geoip2.Open(asnPath)
		if err != nil {
			city.Close()
			return nil, fmt.Errorf("open asn database: %w", err)
		}
		provider.asn = asn
	}
	return provider, nil
}

func (p *GeoLiteProvider) Lookup(_ context.Context, ip string) (GeoInfo, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return GeoInfo{}, fmt.Errorf("invalid ip %q", ip)
	}

	record, err := p.city.City(parsed)
	if err != nil {
		return GeoInfo{}, err
	}

	info := GeoInfo{
		Country: record.Country.Names["en"],
		City:    record.City.Names["en"],
	}
	if info.Country == "" {
		info.Country = record.Country.IsoCode
	}

	if p.asn != nil {
		if asnRecord, err := p.asn.ASN(parsed); err == nil {
			org := asnRecord.AutonomousSystemOrganization
			if datacenterRegex.MatchString(org) {
				info.IsVPN = true
				info.Provider = org
			}
		}
	}

	if info.Country == "" {
		return GeoInfo{}, fmt.Errorf("no record for %s", ip)
	}
	return info, nil
}

func (p *GeoLiteProvider) Close() {
	if p.city != nil {
		p.city.Close()
	}
	if p.asn != nil {
		p.asn.Close()
	}
}

// FallbackProvider tries each provider in order until one answers.
type FallbackProvider struct {
	providers []GeoProvider
}

func NewFallbackProvider(providers ...GeoProvider) *FallbackProvider {
	return &FallbackProvider{providers: providers}
}

func (p *FallbackProvider) Lookup(ctx context.Context, ip string) (GeoInfo, error) {
	var lastErr error
	for _, provider := range p.providers {
		info, err := provider.Lookup(ctx, ip)
		if err == nil {
			return info, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no geo providers configured")
	}
	return GeoInfo{}, lastErr
}
