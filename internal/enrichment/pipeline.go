package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/netip"

	"github.com/datagen24/cowrieprocessor/internal/ipclass"
	"github.com/datagen24/cowrieprocessor/internal/storage"
	"github.com/datagen24/cowrieprocessor/internal/telemetry"
)

// ipEnrichmentDoc is the JSON shape written to ip_inventory.enrichment.
// Field names must line up with storage's own (unexported) projection
// struct, since ProjectIPSnapshots reads this same document back.
type ipEnrichmentDoc struct {
	GeoCountry     string   `json:"geo_country"`
	IPTypes        []string `json:"ip_types"`
	VTFlagged      bool     `json:"vt_flagged"`
	DShieldFlagged bool     `json:"dshield_flagged"`
}

// Pipeline is the post-flush enrichment step: for every distinct source IP
// seen in a committed batch, classify it and fan out to the threat-intel
// providers, then write the result back to ip_inventory and OR the derived
// flags onto every session that IP touched.
type Pipeline struct {
	classifier *ipclass.Classifier
	service    *Service
	db         *storage.DB
	log        *log.Logger
}

// NewPipeline ties a classifier and enrichment service to storage.
func NewPipeline(classifier *ipclass.Classifier, service *Service, db *storage.DB) *Pipeline {
	return &Pipeline{
		classifier: classifier,
		service:    service,
		db:         db,
		log:        log.New(log.Writer(), "[enrichment.pipeline] ", log.LstdFlags),
	}
}

// EnrichSessions classifies and looks up every distinct IP in sessionIPs
// (session_id -> src_ip), one at a time. A single IP's failure is logged
// and skipped rather than aborting the rest of the batch: enrichment runs
// after the batch's own transaction has already committed, so there is
// nothing left to roll back.
func (p *Pipeline) EnrichSessions(ctx context.Context, sessionIPs map[string]string) {
	span := telemetry.StartSpan(ctx, "cowrie.enrichment.batch")

	sessionsByIP := make(map[string][]string, len(sessionIPs))
	for sessionID, ip := range sessionIPs {
		sessionsByIP[ip] = append(sessionsByIP[ip], sessionID)
	}
	span.SetAttr("ips", len(sessionsByIP))

	failed := 0
	for ip, sessions := range sessionsByIP {
		if err := p.enrichOne(ctx, ip, sessions); err != nil {
			failed++
			p.log.Printf("enrich %s: %v", ip, err)
		}
	}
	span.SetAttr("failed", failed)
	span.End(nil)
}

func (p *Pipeline) enrichOne(ctx context.Context, ip string, sessionIDs []string) error {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return fmt.Errorf("parse ip: %w", err)
	}

	result, err := p.classifier.Classify(addr, 0, "")
	if err != nil {
		return fmt.Errorf("classify: %w", err)
	}

	doc := p.service.Lookup(ctx, ip)
	vtFlagged := doc.VTFlagged()
	dshieldFlagged := doc.DShieldFlagged()

	encoded, err := json.Marshal(ipEnrichmentDoc{
		GeoCountry:     dshieldCountry(doc),
		IPTypes:        []string{string(result.IPType)},
		VTFlagged:      vtFlagged,
		DShieldFlagged: dshieldFlagged,
	})
	if err != nil {
		return fmt.Errorf("marshal enrichment document: %w", err)
	}

	if err := storage.UpdateEnrichment(p.db, ip, dshieldASN(doc), encoded); err != nil {
		return fmt.Errorf("update ip_inventory: %w", err)
	}

	for _, sessionID := range sessionIDs {
		if err := storage.UpdateSessionFlags(p.db, sessionID, vtFlagged, dshieldFlagged); err != nil {
			return fmt.Errorf("update session flags for %s: %w", sessionID, err)
		}
	}
	return nil
}

// dshieldCountry pulls the AS country out of the DShield sub-result, if
// present; callers treat an empty string as "unknown", same as a provider
// miss.
func dshieldCountry(doc *Document) string {
	raw, ok := doc.Results["dshield"]
	if !ok {
		return ""
	}
	var ds struct {
		IP struct {
			Country string `json:"ascountry"`
		} `json:"ip"`
	}
	if err := json.Unmarshal(raw, &ds); err != nil {
		return ""
	}
	return ds.IP.Country
}

// dshieldASN pulls the AS number out of the DShield sub-result, if present
// and well-formed.
func dshieldASN(doc *Document) *int {
	raw, ok := doc.Results["dshield"]
	if !ok {
		return nil
	}
	var ds struct {
		IP struct {
			ASN json.Number `json:"asnum"`
		} `json:"ip"`
	}
	if err := json.Unmarshal(raw, &ds); err != nil || ds.IP.ASN == "" {
		return nil
	}
	n, err := ds.IP.ASN.Int64()
	if err != nil {
		return nil
	}
	v := int(n)
	return &v
}
