package httpx

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"

	"github.com/rogeriochaves/pinacle-sub001/internal/proxyauth"
	"github.com/rogeriochaves/pinacle-sub001/pkg/proxytoken"
)

const (
	proxyTokenParam = "token"
	proxyCookieName = "pinacle_proxy_token"
)

// handleProxyAuth is the authenticated entry point into a pod service.
// The dashboard sends the browser here with a session; on success the
// browser is redirected to the pod hostname carrying a short-lived proxy
// token in the query string.
func (r *Router) handleProxyAuth(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for proxy auth", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}

	q := req.URL.Query()
	slug := strings.TrimSpace(q.Get("pod"))
	port, err := strconv.Atoi(q.Get("port"))
	if err != nil || port < 1 || port > 65535 || slug == "" {
		writeError(w, http.StatusBadRequest, "pod and port query parameters required")
		return
	}
	returnPath := q.Get("returnPath")
	if !strings.HasPrefix(returnPath, "/") {
		returnPath = "/"
	}

	decision, err := r.checker.CheckPodAccess(req.Context(), info.UserID, slug)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "access check failed")
		return
	}
	if !decision.HasAccess {
		r.recordProxyDecision("denied")
		writeError(w, http.StatusForbidden, decision.Reason)
		return
	}

	token, err := proxytoken.Generate(info.UserID, decision.Pod.ID, slug, port, r.proxySecret)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token generation failed")
		return
	}
	r.recordProxyDecision("granted")

	target := url.URL{
		Scheme:   requestScheme(req),
		Host:     proxyauth.Hostname(port, slug, r.proxyDomain),
		Path:     returnPath,
		RawQuery: url.Values{proxyTokenParam: {token}}.Encode(),
	}
	http.Redirect(w, req, target.String(), http.StatusFound)
}

// handleProxy serves requests arriving on pod hostnames. Every request
// re-verifies the token and re-checks pod access before being forwarded;
// a revoked membership cuts off an existing browser session on its next
// request.
func (r *Router) handleProxy(w http.ResponseWriter, req *http.Request) {
	target, err := proxyauth.ParseHostname(hostOnly(req.Host), r.proxyDomain)
	if err != nil {
		r.notFound(w)
		return
	}

	token := req.URL.Query().Get(proxyTokenParam)
	fromQuery := token != ""
	if !fromQuery {
		if cookie, err := req.Cookie(proxyCookieName); err == nil {
			token = cookie.Value
		}
	}

	payload := proxytoken.Verify(token, r.proxySecret)
	if payload == nil {
		r.recordProxyDecision("invalid_token")
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if payload.PodSlug != target.Slug || payload.TargetPort != target.Port {
		r.recordProxyDecision("token_mismatch")
		writeError(w, http.StatusForbidden, "You don't have access to this pod")
		return
	}

	decision, err := r.checker.CheckPodAccess(req.Context(), payload.UserID, target.Slug)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "access check failed")
		return
	}
	if !decision.HasAccess {
		r.recordProxyDecision("denied")
		writeError(w, http.StatusForbidden, decision.Reason)
		return
	}
	r.recordProxyDecision("granted")

	if fromQuery {
		// Move the token out of the URL into a cookie scoped to this pod
		// hostname, then strip it so it never lands in upstream logs.
		r.setProxyCookie(w, req, token)
		clean := *req.URL
		q := clean.Query()
		q.Del(proxyTokenParam)
		clean.RawQuery = q.Encode()
		http.Redirect(w, req, clean.String(), http.StatusFound)
		return
	}

	if proxytoken.ExpiringSoon(*payload) {
		if fresh, err := proxytoken.Generate(payload.UserID, payload.PodID, payload.PodSlug, payload.TargetPort, r.proxySecret); err == nil {
			r.setProxyCookie(w, req, fresh)
		}
	}

	r.forward(w, req, target.Port)
}

// forward reverse-proxies to the published service port. Websocket
// upgrades pass through untouched.
func (r *Router) forward(w http.ResponseWriter, req *http.Request, port int) {
	upstream := &url.URL{
		Scheme: "http",
		Host:   fmt.Sprintf("%s:%d", r.upstreamHost, port),
	}
	proxy := httputil.NewSingleHostReverseProxy(upstream)
	proxy.ErrorHandler = func(w http.ResponseWriter, req *http.Request, err error) {
		r.logger.Warn("proxy upstream error", "host", req.Host, "upstream", upstream.Host, "error", err)
		writeError(w, http.StatusBadGateway, "service unavailable")
	}
	proxy.ServeHTTP(w, req)
}

func (r *Router) setProxyCookie(w http.ResponseWriter, req *http.Request, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     proxyCookieName,
		Value:    token,
		Path:     "/",
		Domain:   hostOnly(req.Host),
		MaxAge:   int(proxytoken.TokenTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   requestScheme(req) == "https",
	})
}

func requestScheme(req *http.Request) string {
	if proto := req.Header.Get("X-Forwarded-Proto"); proto != "" {
		return proto
	}
	if req.TLS != nil {
		return "https"
	}
	return "http"
}
