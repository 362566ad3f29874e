package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"sealgate/internal/format"
	"sealgate/internal/models"
	"sealgate/internal/publish"
)

var outputFormatter format.Formatter = format.JSONFormatter{}

func writeJSON(payload any) error {
	return outputFormatter.Write(os.Stdout, payload)
}

func writePlain(format string, args ...any) error {
	_, err := fmt.Fprintf(os.Stdout, format, args...)
	return err
}

func writeLines(lines []string) error {
	return writePlain("%s\n", strings.Join(lines, "\n"))
}

// shareLink is where a policy can be viewed by its members or subscribers.
func shareLink(baseURL string, p models.Policy) string {
	section := "allowlist"
	if p.Kind == models.KindSubscription {
		section = "service"
	}
	return strings.TrimRight(baseURL, "/") + "/" + section + "/view/" + p.ID
}

type policyView struct {
	models.Policy `yaml:",inline"`
	ShareLink     string             `json:"share_link" yaml:"share_link"`
	Capability    *models.Capability `json:"capability,omitempty" yaml:"capability,omitempty"`
}

func policyLines(view policyView) []string {
	p := view.Policy
	lines := []string{
		fmt.Sprintf("id: %s", p.ID),
		fmt.Sprintf("kind: %s", p.Kind),
		fmt.Sprintf("name: %s", p.Name),
		fmt.Sprintf("version: %d", p.Version),
	}
	if p.Kind == models.KindSubscription {
		lines = append(lines,
			fmt.Sprintf("owner: %s", p.Owner),
			fmt.Sprintf("fee: %d", p.FeeAmount),
			fmt.Sprintf("ttl: %s", p.TTL()),
		)
	} else {
		lines = append(lines, fmt.Sprintf("members: %d", len(p.Members)))
		for _, m := range p.SortedMembers() {
			lines = append(lines, fmt.Sprintf("  - %s", m))
		}
	}
	if view.Capability != nil {
		lines = append(lines, fmt.Sprintf("capability: %s", view.Capability.ID))
	}
	lines = append(lines, fmt.Sprintf("assets: %d", len(p.Assets)))
	for _, a := range p.Assets {
		lines = append(lines, fmt.Sprintf("  - %s", a))
	}
	lines = append(lines, fmt.Sprintf("share_link: %s", view.ShareLink))
	return lines
}

func grantLines(g models.Grant, ttlMillis int64) []string {
	return []string{
		fmt.Sprintf("id: %s", g.ID),
		fmt.Sprintf("policy_id: %s", g.PolicyID),
		fmt.Sprintf("holder: %s", g.Holder),
		fmt.Sprintf("purchased_at: %s", formatTime(time.UnixMilli(g.PurchasedAt))),
		fmt.Sprintf("expires_at: %s", formatTime(g.ExpiresAt(ttlMillis))),
	}
}

// uploadLines is the upload summary printed after a publish.
func uploadLines(run *publish.Run) []string {
	lines := []string{fmt.Sprintf("run: %s", run.ID), fmt.Sprintf("phase: %s", run.Phase)}
	if run.Blob != nil {
		lines = append(lines,
			fmt.Sprintf("status: %s", run.Blob.Label()),
			fmt.Sprintf("blob_id: %s", run.Blob.BlobID),
			fmt.Sprintf("end_epoch: %d", run.Blob.EndEpoch),
			fmt.Sprintf("certifying_ref: %s", run.Blob.CertifyingRef),
		)
	}
	if run.Asset != nil {
		lines = append(lines,
			fmt.Sprintf("url: %s", run.Asset.PublishedURL),
			fmt.Sprintf("policy_id: %s", run.Asset.PolicyID),
		)
	}
	return lines
}

// feedEntry is one decrypted (or failed) asset of a feed.
type feedEntry struct {
	URL     string `json:"url" yaml:"url"`
	BlobID  string `json:"blob_id" yaml:"blob_id"`
	Content string `json:"content,omitempty" yaml:"content,omitempty"`
	Error   string `json:"error,omitempty" yaml:"error,omitempty"`
	Code    string `json:"code,omitempty" yaml:"code,omitempty"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
