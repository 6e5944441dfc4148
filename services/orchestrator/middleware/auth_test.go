// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(auth *TokenAuth) *gin.Engine {
	router := gin.New()
	router.Use(AuthMiddleware(auth))
	router.GET("/protected", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"principal": GetPrincipal(c)})
	})
	return router
}

func TestNewTokenAuth_BlankTokensMeanOpen(t *testing.T) {
	assert.Nil(t, NewTokenAuth(nil))
	assert.Nil(t, NewTokenAuth(map[string]string{"web": "  "}))
	assert.NotNil(t, NewTokenAuth(map[string]string{"web": "secret"}))
}

func TestAuthMiddleware(t *testing.T) {
	auth := NewTokenAuth(map[string]string{"web": "secret-web", "cli": "secret-cli"})

	tests := []struct {
		name       string
		auth       *TokenAuth
		header     string
		query      string
		wantStatus int
		wantBody   string
	}{
		{name: "open API", auth: nil, wantStatus: http.StatusOK, wantBody: `{"principal":""}`},
		{name: "missing token", auth: auth, wantStatus: http.StatusUnauthorized},
		{name: "wrong token", auth: auth, header: "Bearer nope", wantStatus: http.StatusUnauthorized},
		{name: "wrong scheme", auth: auth, header: "Basic secret-web", wantStatus: http.StatusUnauthorized},
		{name: "bearer header", auth: auth, header: "Bearer secret-web", wantStatus: http.StatusOK, wantBody: `{"principal":"web"}`},
		{name: "case-insensitive scheme", auth: auth, header: "bearer secret-cli", wantStatus: http.StatusOK, wantBody: `{"principal":"cli"}`},
		{name: "query parameter", auth: auth, query: "?access_token=secret-cli", wantStatus: http.StatusOK, wantBody: `{"principal":"cli"}`},
		{name: "header wins over query", auth: auth, header: "Bearer nope", query: "?access_token=secret-cli", wantStatus: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/protected"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			newTestRouter(tt.auth).ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantBody != "" {
				assert.JSONEq(t, tt.wantBody, w.Body.String())
			}
		})
	}
}
