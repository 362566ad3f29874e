package main

import (
	"context"
	"errors"
	"net"

	"sealgate/internal/api"
	"sealgate/internal/errs"
)

// kindHints is printed under an error of the given kind.
var kindHints = map[errs.Kind]string{
	errs.NotFound:           "hint: check the id; objects created moments ago may not be visible yet.",
	errs.Unauthorized:       "hint: only the holder of the policy's capability can do this; check --as or the address config key.",
	errs.InvalidInput:       "hint: check the command arguments; run with --help for usage.",
	errs.Rejected:           "hint: the ledger declined the transaction; check the fee and the capability used.",
	errs.TransportError:     "hint: the blob store failed; retry shortly.",
	errs.Expired:            "hint: the blob's retention has ended; publish the content again with more --epochs.",
	errs.AccessDenied:       "hint: key servers refused to release keys for this account.",
	errs.NotEligible:        "hint: the account is not on the allowlist or holds no unexpired subscription.",
	errs.ServiceUnavailable: "hint: ensure a sealgate server is running at SEALGATE_API_URL.",
}

// reasonHints refine kindHints for specific reasons.
var reasonHints = map[string]string{
	errs.ReasonCapabilityNotFound: "hint: create the policy with this account or act as its owner with --as.",
	errs.ReasonAssetNotFound:      "hint: nothing has been published under this policy yet; see: sealgate publish --help",
	errs.ReasonInvalidThreshold:   "hint: lower --threshold or register more key servers (keyservers.count).",
	errs.ReasonPayloadTooLarge:    "hint: raise publish.max_upload_bytes or publish smaller content.",
}

func formatCLIError(err error) []string {
	if err == nil {
		return nil
	}

	lines := []string{err.Error()}
	kind, reason := errs.KindOf(err), errs.ReasonOf(err)
	if kind != "" {
		lines[0] = errs.Message(kind, reason) + ": " + err.Error()
		if hint, ok := reasonHints[reason]; ok {
			lines = append(lines, hint)
		}
		if hint, ok := kindHints[kind]; ok {
			lines = append(lines, hint)
		}
	}

	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case "unauthenticated":
			lines = append(lines, "hint: verify SEALGATE_API_TOKEN matches the server's token.")
		case "resource_exhausted":
			lines = append(lines, "hint: retry shortly or reduce concurrent uploads.")
		}
		if apiErr.Code == "" {
			lines = append(lines, "hint: verify SEALGATE_API_URL points to a sealgate server.")
		}
		if apiErr.Status >= 500 {
			lines = append(lines, "hint: server returned an internal error; check server logs for details.")
		}
		return uniqueLines(lines)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		lines = append(lines, "hint: request timed out; check server health or increase SEALGATE_HTTP_TIMEOUT.")
		return uniqueLines(lines)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		lines = append(lines,
			"hint: ensure a sealgate server is running at SEALGATE_API_URL.",
			"hint: start local server manually with: sealgate srv",
			"hint: you can increase SEALGATE_HTTP_TIMEOUT for slower environments.",
		)
	}

	return uniqueLines(lines)
}

func uniqueLines(lines []string) []string {
	seen := make(map[string]struct{}, len(lines))
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		if _, ok := seen[line]; ok {
			continue
		}
		seen[line] = struct{}{}
		out = append(out, line)
	}
	return out
}
