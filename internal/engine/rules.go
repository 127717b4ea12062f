package engine

import (
	"fmt"
	"strings"

	"github.com/blackroadhq/eventmesh/internal/models"
)

// captionRegressionFactor flags a latency regression when the slowest caption
// job runs at or above this multiple of the average.
const captionRegressionFactor = 1.2

// ReleaseIncidentRule aligns deploy audits with incident traffic for a
// release. Active only for releaseId keys.
type ReleaseIncidentRule struct{}

// Name implements Rule.
func (*ReleaseIncidentRule) Name() string { return "release-incident" }

// Applies implements Rule.
func (*ReleaseIncidentRule) Applies(keyType models.KeyType) bool {
	return keyType == models.KeyTypeRelease
}

// Notes flags a deploy-create audit action plus a gateway log hitting an
// incidents route within the same timeline. Both present: alignment warning.
// Deploy only: clean-deploy note. Otherwise silent.
func (r *ReleaseIncidentRule) Notes(events []models.Envelope, key string, keyType models.KeyType) []string {
	if !r.Applies(keyType) {
		return nil
	}

	deploySeen := false
	incidentSeen := false
	for _, e := range events {
		if e.Source == models.SourceAudit {
			if action, ok := e.Attrs.Text("action"); ok && action == "deploy.create" {
				deploySeen = true
			}
		}
		if e.Source == models.SourceGateway && e.Kind == models.KindLog {
			if route, ok := e.Attrs.Text("route"); ok && strings.Contains(route, "/incidents") {
				incidentSeen = true
			}
		}
	}

	switch {
	case deploySeen && incidentSeen:
		return []string{fmt.Sprintf("Release %s aligns with an incident window; review error rates.", key)}
	case deploySeen:
		return []string{fmt.Sprintf("Release %s deployed with no incident signals in the window.", key)}
	default:
		return nil
	}
}

// CaptionLatencyRule summarizes caption job latency for an asset. Active only
// for assetId keys.
type CaptionLatencyRule struct{}

// Name implements Rule.
func (*CaptionLatencyRule) Name() string { return "caption-latency" }

// Applies implements Rule.
func (*CaptionLatencyRule) Applies(keyType models.KeyType) bool {
	return keyType == models.KeyTypeAsset
}

// Notes averages durationMs attributes across media job events for the asset.
// When any event in the set carries a releaseId and the observed max runs at
// 1.2x the average or worse, a regression note names that release.
func (r *CaptionLatencyRule) Notes(events []models.Envelope, key string, keyType models.KeyType) []string {
	if !r.Applies(keyType) {
		return nil
	}

	var (
		durations []float64
		releaseID string
	)
	for _, e := range events {
		if e.Source != models.SourceMedia || e.Kind != models.KindJob {
			continue
		}
		d, ok := e.Attrs.Float("durationMs")
		if !ok {
			continue
		}
		durations = append(durations, d)
		if releaseID == "" && e.ReleaseID != "" {
			releaseID = e.ReleaseID
		}
	}
	if len(durations) == 0 {
		return nil
	}

	sum := 0.0
	max := durations[0]
	for _, d := range durations {
		sum += d
		if d > max {
			max = d
		}
	}
	avg := sum / float64(len(durations))

	notes := []string{
		fmt.Sprintf("Caption latency for %s: avg %.0fms, max %.0fms across %d jobs.", key, avg, max, len(durations)),
	}
	if releaseID != "" && max >= captionRegressionFactor*avg {
		notes = append(notes, fmt.Sprintf("Latency regression suspected after release %s: max %.0fms vs avg %.0fms.", releaseID, max, avg))
	}
	return notes
}

// SimulationEvidenceRule lists the distinct evidence hashes recorded across a
// simulation or release timeline. Active for simId and releaseId keys.
type SimulationEvidenceRule struct{}

// Name implements Rule.
func (*SimulationEvidenceRule) Name() string { return "simulation-evidence" }

// Applies implements Rule.
func (*SimulationEvidenceRule) Applies(keyType models.KeyType) bool {
	return keyType == models.KeyTypeSim || keyType == models.KeyTypeRelease
}

// Notes emits a single note listing distinct evidenceHash attributes in
// first-seen order, or nothing when none exist.
func (r *SimulationEvidenceRule) Notes(events []models.Envelope, key string, keyType models.KeyType) []string {
	if !r.Applies(keyType) {
		return nil
	}

	seen := make(map[string]struct{})
	var hashes []string
	for _, e := range events {
		hash, ok := e.Attrs.Text("evidenceHash")
		if !ok || hash == "" {
			continue
		}
		if _, dup := seen[hash]; dup {
			continue
		}
		seen[hash] = struct{}{}
		hashes = append(hashes, hash)
	}
	if len(hashes) == 0 {
		return nil
	}
	return []string{fmt.Sprintf("Simulation evidence: %s.", strings.Join(hashes, ", "))}
}
