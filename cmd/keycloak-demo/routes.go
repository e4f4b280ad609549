// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/securecookie"
	"github.com/hashicorp/cap-keycloak/keycloak"
	"github.com/hashicorp/cap-keycloak/keycloak/callback"
	"github.com/hashicorp/go-hclog"
)

var successTmpl = template.Must(template.New("success").Parse(`<!DOCTYPE html>
<html>
<head><title>Signed in</title></head>
<body>
<h1>Signed in as {{.Subject}}</h1>
<table>
{{range $k, $v := .Claims}}<tr><td>{{$k}}</td><td>{{$v}}</td></tr>
{{end}}</table>
<p><a href="/introspect?token={{.AccessToken}}">Introspect access token</a></p>
<p><a href="/signout?token={{.IDToken}}">Sign out</a></p>
</body>
</html>
`))

type successPage struct {
	Subject     string
	Claims      map[string]interface{}
	AccessToken string
	IDToken     string
}

func newRouter(kc *keycloak.Keycloak, sc *securecookie.SecureCookie, logger hclog.Logger) (http.Handler, error) {
	login, err := callback.Login(kc, sc)
	if err != nil {
		return nil, fmt.Errorf("unable to create login handler: %w", err)
	}
	authCode, err := callback.AuthCode(kc, sc, successFn(kc, logger), failedFn(logger))
	if err != nil {
		return nil, fmt.Errorf("unable to create callback handler: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer)
	r.Get("/authorizationurl", login)
	r.Get("/", authCode)
	r.Get("/signout", signOutHandler(kc, logger))
	r.Get("/introspect", introspectHandler(kc, logger))
	return r, nil
}

func successFn(kc *keycloak.Keycloak, logger hclog.Logger) callback.SuccessResponseFunc {
	return func(state string, t keycloak.Token, w http.ResponseWriter, req *http.Request) {
		claims := map[string]interface{}{}
		if err := kc.UserInfo(req.Context(), t.AccessToken(), &claims); err != nil {
			logger.Error("userinfo request failed", "error", err)
			http.Error(w, "unable to fetch user info", statusFor(err))
			return
		}
		sub, _ := claims["sub"].(string)
		logger.Info("user signed in", "sub", sub, "session_state", t.SessionState())

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		page := successPage{
			Subject:     sub,
			Claims:      claims,
			AccessToken: string(t.AccessToken()),
			IDToken:     string(t.IDToken()),
		}
		if err := successTmpl.Execute(w, page); err != nil {
			logger.Error("unable to render page", "error", err)
		}
	}
}

func failedFn(logger hclog.Logger) callback.ErrorResponseFunc {
	return func(state string, r *callback.AuthenErrorResponse, e error, w http.ResponseWriter, req *http.Request) {
		var msg string
		switch {
		case r != nil:
			msg = fmt.Sprintf("provider error %s: %s", r.Error, r.Description)
		case e != nil:
			msg = e.Error()
		default:
			msg = "unknown error"
		}
		logger.Warn("sign in failed", "state", state, "error", msg)
		http.Error(w, msg, http.StatusUnauthorized)
	}
}

func signOutHandler(kc *keycloak.Keycloak, logger hclog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		u, err := kc.SignOutURL(req.Context(), keycloak.IDToken(req.URL.Query().Get("token")))
		if err != nil {
			logger.Error("unable to build sign out url", "error", err)
			http.Error(w, err.Error(), statusFor(err))
			return
		}
		http.Redirect(w, req, u, http.StatusFound)
	}
}

func introspectHandler(kc *keycloak.Keycloak, logger hclog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		token := req.URL.Query().Get("token")
		if token == "" {
			http.Error(w, "missing token parameter", http.StatusBadRequest)
			return
		}
		i, err := kc.Introspect(req.Context(), token)
		if err != nil {
			logger.Error("introspection failed", "error", err)
			http.Error(w, err.Error(), statusFor(err))
			return
		}
		resp := map[string]interface{}{}
		if err := i.Claims(&resp); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			logger.Error("unable to write response", "error", err)
		}
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, keycloak.ErrNotConfigured):
		return http.StatusServiceUnavailable
	case errors.Is(err, keycloak.ErrInvalidParameter):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}
