package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Synthetic status codes for failures that never produced a real HTTP
// response, mirroring the original generator's convention of keeping
// failure signal in-band with the ordinary status-code extraction path.
const (
	StatusUnexpectedError   = 596 // unclassified panic/exception during execution
	StatusClientError       = 597 // a non-retryable client-side error (single attempt)
	StatusConnectionFailed  = 598 // connection/timeout exhausted across all retries
	StatusPreRequestFailure = 599 // URL/param resolution failed before any network call
)

const (
	maxAttempts    = 3
	baseRetryDelay = 500 * time.Millisecond
)

// TargetConfig is the flow-wide destination the generator is driving
// load at, derived once from ContainerConfig.FlowTargetURL.
type TargetConfig struct {
	Scheme              string
	Host                string // original hostname, no port
	Port                int    // default port for Scheme (443/80) unless the URL carried one
	DNSOverrideIP       string // empty when no override is configured
	OverrideStepURLHost bool
}

// NewTargetConfig parses flowTargetURL and resolves a TargetConfig, per
// FlowRunner.__init__'s up-front URL parsing.
func NewTargetConfig(flowTargetURL, dnsOverrideIP string, overrideStepURLHost bool) (TargetConfig, error) {
	u, err := url.Parse(flowTargetURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return TargetConfig{}, fmt.Errorf("flow target url %q is not absolute", flowTargetURL)
	}
	port := 80
	if u.Scheme == "https" {
		port = 443
	}
	host := u.Hostname()
	return TargetConfig{
		Scheme:              u.Scheme,
		Host:                host,
		Port:                port,
		DNSOverrideIP:       dnsOverrideIP,
		OverrideStepURLHost: overrideStepURLHost,
	}, nil
}

// composedRequest is the fully resolved wire-level request, ready to
// hand to resty.
type composedRequest struct {
	method     string
	url        string
	hostHeader string // non-empty only when the connection target and the Host header diverge
}

// composeURL implements the two branches from the original URL
// composition logic: override_step_url_host true always routes through
// the target's own scheme/host (or the DNS-override IP), using the step
// URL purely for path/query/fragment; false lets an absolute step URL
// win outright, only rewriting the connection target (not the Host
// header) when that absolute URL happens to point back at the flow
// target's own hostname and a DNS override is configured.
func composeURL(step *RequestStep, resolvedURL string, target TargetConfig) (composedRequest, error) {
	stepURL, err := url.Parse(resolvedURL)
	if err != nil {
		return composedRequest{}, fmt.Errorf("invalid step url %q: %w", resolvedURL, err)
	}

	reencodeQuery(stepURL)

	if target.OverrideStepURLHost {
		connectHost := target.Host
		if target.DNSOverrideIP != "" {
			connectHost = target.DNSOverrideIP
		}
		out := *stepURL
		out.Scheme = target.Scheme
		out.Host = fmt.Sprintf("%s:%d", connectHost, target.Port)
		hostHeader := ""
		if target.DNSOverrideIP != "" {
			hostHeader = target.Host
		}
		return composedRequest{method: step.Method, url: out.String(), hostHeader: hostHeader}, nil
	}

	if stepURL.IsAbs() {
		if stepURL.Hostname() == target.Host && target.DNSOverrideIP != "" {
			out := *stepURL
			out.Host = fmt.Sprintf("%s:%d", target.DNSOverrideIP, target.Port)
			return composedRequest{method: step.Method, url: out.String(), hostHeader: target.Host}, nil
		}
		return composedRequest{method: step.Method, url: stepURL.String()}, nil
	}

	connectHost := target.Host
	if target.DNSOverrideIP != "" {
		connectHost = target.DNSOverrideIP
	}
	base := fmt.Sprintf("%s://%s:%d", target.Scheme, connectHost, target.Port)
	joined := base + ensureLeadingSlash(stepURL.String())
	hostHeader := ""
	if target.DNSOverrideIP != "" {
		hostHeader = target.Host
	}
	return composedRequest{method: step.Method, url: joined, hostHeader: hostHeader}, nil
}

func ensureLeadingSlash(p string) string {
	if strings.HasPrefix(p, "/") {
		return p
	}
	return "/" + p
}

// reencodeQuery re-encodes the step URL's query string, matching the
// original's literal-plus-safe re-encoding so "+" in a query value isn't
// silently turned into a space by a permissive client.
func reencodeQuery(u *url.URL) {
	if u.RawQuery == "" {
		return
	}
	escaped := strings.ReplaceAll(u.RawQuery, "+", "%2B")
	values, err := url.ParseQuery(escaped)
	if err != nil {
		return
	}
	u.RawQuery = values.Encode()
}

// hasUnresolvedTrailingParam reports whether path ends with a literal
// "{{param}}" placeholder that Interpolate left untouched because the
// referenced path resolved to missing/empty — the 599 pre-request-
// failure case for relative step URLs.
func hasUnresolvedTrailingParam(path string) bool {
	trimmed := strings.TrimRight(path, "/")
	return strings.Contains(trimmed, "{{") && strings.HasSuffix(trimmed, "}}")
}

// mergeHeaders layers carryHeaders (the per-user base + flow-wide
// headers, already merged and interpolated by the caller) under the
// step's own interpolated headers, then applies a Host override last.
func mergeHeaders(carryHeaders map[string]string, stepHeaders map[string]any, hostOverride string) map[string]string {
	out := make(map[string]string, len(carryHeaders)+len(stepHeaders)+1)
	for k, v := range carryHeaders {
		out[k] = v
	}
	for k, v := range ToStringValueMap(stepHeaders) {
		out[k] = v
	}
	if hostOverride != "" {
		out["Host"] = hostOverride
	}
	return out
}

// resolveBody converts an interpolated body value into resty-ready
// input, mirroring the original's dict/list→JSON, string→maybe-JSON,
// other→raw-bytes branching.
func resolveBody(body any, headers map[string]string) any {
	switch v := body.(type) {
	case map[string]any, []any:
		if _, ok := headerLookup(headers, "Content-Type"); !ok {
			headers["Content-Type"] = "application/json; charset=utf-8"
		}
		return v
	case string:
		if ct, ok := headerLookup(headers, "Content-Type"); ok && strings.Contains(strings.ToLower(ct), "json") {
			var parsed any
			if json.Unmarshal([]byte(v), &parsed) == nil {
				return parsed
			}
		}
		return []byte(v)
	case nil:
		return nil
	default:
		return []byte(stringify(v))
	}
}

func headerLookup(headers map[string]string, name string) (string, bool) {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// RequestOutcome is the result of executing one RequestStep, including
// the synthetic status codes used for failures that never got a real
// HTTP response.
type RequestOutcome struct {
	Status  int
	Headers map[string]string
	Body    any
}

// ExecuteRequestStep runs step against target over client, retrying on
// 5xx responses and transport errors with the original's exponential
// backoff, extracting Extract entries into flowCtx, and recording every
// attempt that actually reached the network in metrics.
func ExecuteRequestStep(ctx context.Context, client *resty.Client, step *RequestStep, flowCtx map[string]any, carryHeaders map[string]string, target TargetConfig, metrics *Metrics) RequestOutcome {
	resolvedURL, _ := Interpolate(step.URL, flowCtx).(string)
	resolvedHeadersAny := Interpolate(anyStringMap(step.Headers), flowCtx)
	resolvedHeaders, _ := resolvedHeadersAny.(map[string]any)
	resolvedBody := Interpolate(step.Body, flowCtx)

	if !target.OverrideStepURLHost {
		parsed, err := url.Parse(resolvedURL)
		if err == nil && !parsed.IsAbs() && hasUnresolvedTrailingParam(parsed.Path) {
			return finishWithStatus(StatusPreRequestFailure, flowCtx, step)
		}
	}

	composed, err := composeURL(step, resolvedURL, target)
	if err != nil {
		return finishWithStatus(StatusPreRequestFailure, flowCtx, step)
	}

	headers := mergeHeaders(carryHeaders, resolvedHeaders, composed.hostHeader)
	body := resolveBody(resolvedBody, headers)

	var outcome RequestOutcome
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := time.Duration(float64(baseRetryDelay) * pow2(attempt))
			select {
			case <-ctx.Done():
				return finishWithStatus(StatusConnectionFailed, flowCtx, step)
			case <-time.After(delay):
			}
		}

		if metrics != nil {
			metrics.IncrementRequests()
		}

		req := client.R().SetContext(ctx).SetHeaders(headers)
		if body != nil {
			req = req.SetBody(body)
		}
		resp, respErr := req.Execute(composed.method, composed.url)

		if respErr != nil {
			if attempt == maxAttempts-1 {
				outcome = RequestOutcome{Status: StatusConnectionFailed}
				continue
			}
			continue
		}

		status := resp.StatusCode()
		outcome = decodeResponse(status, resp)
		if status >= 500 && status < 600 && attempt < maxAttempts-1 {
			continue
		}
		break
	}

	recordResponseContext(flowCtx, step.ID, outcome)
	extractInto(flowCtx, step.Extract, outcome)
	return outcome
}

// recordResponseContext writes the reserved response_<id>_status/headers/
// body/error keys unconditionally, regardless of any explicit Extract
// rules — matching the Python original's "Update context with final
// status, headers, body, and error message (ALWAYS do this)" behavior, so
// later steps can reference a prior step's outcome via the documented
// response_<id>_* convention without declaring an extract entry for it.
func recordResponseContext(flowCtx map[string]any, stepID string, outcome RequestOutcome) {
	Set(flowCtx, fmt.Sprintf("response_%s_status", stepID), outcome.Status)
	Set(flowCtx, fmt.Sprintf("response_%s_headers", stepID), outcome.Headers)
	Set(flowCtx, fmt.Sprintf("response_%s_body", stepID), outcome.Body)

	var errMsg any
	if isSyntheticErrorStatus(outcome.Status) {
		errMsg = fmt.Sprintf("request failed with status %d", outcome.Status)
	}
	Set(flowCtx, fmt.Sprintf("response_%s_error", stepID), errMsg)
}

func isSyntheticErrorStatus(status int) bool {
	switch status {
	case StatusUnexpectedError, StatusClientError, StatusConnectionFailed, StatusPreRequestFailure:
		return true
	default:
		return false
	}
}

func pow2(n int) float64 {
	result := 1.0
	for i := 0; i < n; i++ {
		result *= 2
	}
	return result
}

func finishWithStatus(status int, flowCtx map[string]any, step *RequestStep) RequestOutcome {
	outcome := RequestOutcome{Status: status}
	recordResponseContext(flowCtx, step.ID, outcome)
	extractInto(flowCtx, step.Extract, outcome)
	return outcome
}

func anyStringMap(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// decodeResponse reads resp's body per content-type: JSON is parsed,
// text/* is kept as a string, anything else becomes a bounded binary
// placeholder description rather than being held in memory/logs.
func decodeResponse(status int, resp *resty.Response) RequestOutcome {
	headers := make(map[string]string, len(resp.Header()))
	for k := range resp.Header() {
		headers[strings.ToLower(k)] = resp.Header().Get(k)
	}

	contentType := strings.ToLower(resp.Header().Get("Content-Type"))
	raw := resp.Body()

	var body any
	switch {
	case strings.Contains(contentType, "json"):
		var parsed any
		if json.Unmarshal(raw, &parsed) == nil {
			body = parsed
		} else {
			body = string(raw)
		}
	case strings.HasPrefix(contentType, "text/"):
		body = string(raw)
	default:
		n := len(raw)
		prefixLen := n
		if prefixLen > 100 {
			prefixLen = 100
		}
		body = fmt.Sprintf("[Body Binary Data - Type: %s, Size: %d bytes, Starts: %x]", contentType, n, raw[:prefixLen])
	}

	return RequestOutcome{Status: status, Headers: headers, Body: body}
}

// extractInto applies each Extract rule against outcome, writing Missing
// responses as explicit nil (never leaving the variable unset), per the
// original's ".status" / "headers." / "body" / "body." / default rules.
func extractInto(flowCtx map[string]any, extract map[string]string, outcome RequestOutcome) {
	for varName, path := range extract {
		var value any
		switch {
		case path == ".status":
			value = outcome.Status
		case strings.HasPrefix(path, "headers."):
			key := strings.ToLower(strings.TrimPrefix(path, "headers."))
			if v, ok := outcome.Headers[key]; ok {
				value = v
			} else {
				value = nil
			}
		case path == "body":
			value = outcome.Body
		case strings.HasPrefix(path, "body."):
			v := Get(outcome.Body, strings.TrimPrefix(path, "body."))
			if IsMissing(v) {
				value = nil
			} else {
				value = v
			}
		default:
			v := Get(outcome.Body, path)
			if IsMissing(v) {
				value = nil
			} else {
				value = v
			}
		}
		Set(flowCtx, varName, value)
	}
}
