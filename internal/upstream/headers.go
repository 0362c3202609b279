package upstream

import (
	"io"
	"net/http"
	"net/url"
	"strings"
)

// hopByHop headers belong to a single connection and are never relayed.
var hopByHop = map[string]bool{
	"Connection":          true,
	"Proxy-Connection":    true,
	"Keep-Alive":          true,
	"Transfer-Encoding":   true,
	"Te":                  true,
	"Trailer":             true,
	"Upgrade":             true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Content-Length":      true,
}

// clientOnly headers carry the caller's own credentials or routing hints.
// The gateway sets its own; Accept-Encoding is left to the transport.
var clientOnly = map[string]bool{
	"Authorization":   true,
	"X-Api-Key":       true,
	"X-Goog-Api-Key":  true,
	"Api-Key":         true,
	"Cookie":          true,
	"X-Nexus-Account": true,
	"Accept-Encoding": true,
	"Host":            true,
}

func CloneValues(values url.Values) url.Values {
	out := make(url.Values, len(values))
	for k, v := range values {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// connectionTokens lists the extra headers a peer marked hop-by-hop
// through its Connection header.
func connectionTokens(h http.Header) map[string]bool {
	var named map[string]bool
	for _, v := range h.Values("Connection") {
		for _, tok := range strings.Split(v, ",") {
			if tok = strings.TrimSpace(tok); tok != "" {
				if named == nil {
					named = make(map[string]bool)
				}
				named[http.CanonicalHeaderKey(tok)] = true
			}
		}
	}
	return named
}

func copyHeaders(dst, src http.Header, skip func(string) bool) {
	named := connectionTokens(src)
	for k, values := range src {
		key := http.CanonicalHeaderKey(k)
		if hopByHop[key] || named[key] || skip(key) {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

// CopyForwardHeaders relays client headers to the provider, minus
// connection headers and client credentials.
func CopyForwardHeaders(dst, src http.Header) {
	copyHeaders(dst, src, func(k string) bool { return clientOnly[k] })
}

// CopyResponseHeaders relays provider headers to the client. Provider
// cookies stay with the gateway.
func CopyResponseHeaders(dst, src http.Header) {
	copyHeaders(dst, src, func(k string) bool { return k == "Set-Cookie" })
}

// CopyResponse writes resp to w, flushing after every read so streamed
// bodies reach the client as they arrive.
func CopyResponse(w http.ResponseWriter, resp *http.Response) error {
	CopyResponseHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32<<10)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		switch {
		case err == io.EOF:
			return nil
		case err != nil:
			return err
		}
	}
}
