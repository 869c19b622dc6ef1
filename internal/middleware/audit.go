package middleware

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/huangang/taskhub/pkg/logger"
)

// ActivityAppender is the part of the activity log the audit middleware writes to.
type ActivityAppender interface {
	Append(ctx context.Context, actorID, projectID uint, message string, metadata map[string]interface{}) error
}

const projectRoutePrefix = "/api/projects/:id"

// AuditLog writes one log line per write request (POST/PUT/PATCH/DELETE).
// Writes on a project that were refused with 403 are also appended to that
// project's activity log, so owners can see who tried what.
func AuditLog(activity ActivityAppender) gin.HandlerFunc {
	return func(c *gin.Context) {
		method := c.Request.Method
		if method != http.MethodPost && method != http.MethodPut &&
			method != http.MethodPatch && method != http.MethodDelete {
			c.Next()
			return
		}

		var bodySnippet string
		if c.Request.Body != nil {
			bodyBytes, _ := io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			bodySnippet = string(bodyBytes)
			if len(bodySnippet) > 2000 {
				bodySnippet = bodySnippet[:2000] + "...[truncated]"
			}
			bodySnippet = maskSensitiveFields(bodySnippet)
		}

		c.Next()

		userID := GetUserID(c)
		status := c.Writer.Status()
		module, action := parseRouteInfo(c.FullPath(), method)

		logger.Info().
			Str("module", module).
			Str("action", action).
			Uint("user_id", userID).
			Str("method", method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Str("ip", c.ClientIP()).
			Msg(formatAuditMessage(GetUsername(c), method, c.Request.URL.Path, status))

		if activity == nil || status != http.StatusForbidden || userID == 0 {
			return
		}
		projectID, ok := auditedProject(c)
		if !ok {
			return
		}
		err := activity.Append(c.Request.Context(), userID, projectID,
			formatAuditMessage(GetUsername(c), method, c.Request.URL.Path, status),
			map[string]interface{}{
				"action": "audit.denied",
				"ip":     c.ClientIP(),
				"method": method,
				"path":   c.Request.URL.Path,
				"status": status,
				"body":   bodySnippet,
			})
		if err != nil {
			logger.Warn().Err(err).Uint("project_id", projectID).Msg("[Audit] activity append failed")
		}
	}
}

// auditedProject returns the project id of a /api/projects/:id/... route.
func auditedProject(c *gin.Context) (uint, bool) {
	if !strings.HasPrefix(c.FullPath(), projectRoutePrefix) {
		return 0, false
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// parseRouteInfo extracts module and action from a Gin route pattern.
// e.g. "/api/projects/:id/members" + "POST" -> module="projects", action="create"
func parseRouteInfo(fullPath, method string) (module, action string) {
	path := strings.TrimPrefix(fullPath, "/api/")

	parts := strings.SplitN(path, "/", 2)
	module = parts[0]
	if module == "" {
		module = "unknown"
	}

	switch method {
	case http.MethodPost:
		action = "create"
	case http.MethodPut, http.MethodPatch:
		action = "update"
	case http.MethodDelete:
		action = "delete"
	default:
		action = strings.ToLower(method)
	}
	return module, action
}

func formatAuditMessage(username, method, path string, status int) string {
	var b strings.Builder
	b.WriteString("[Audit] ")
	if username == "" {
		username = "anonymous"
	}
	b.WriteString(username)
	b.WriteString(" ")
	b.WriteString(method)
	b.WriteString(" ")
	b.WriteString(path)
	b.WriteString(" -> ")
	switch {
	case status >= 200 && status < 300:
		b.WriteString("OK")
	case status == http.StatusForbidden:
		b.WriteString("Denied")
	default:
		b.WriteString("Failed")
	}
	return b.String()
}

// maskSensitiveFields replaces sensitive values in a JSON body
func maskSensitiveFields(body string) string {
	sensitiveKeys := []string{"password", "new_password", "old_password", "token", "refresh_token", "secret"}
	lower := strings.ToLower(body)
	for _, key := range sensitiveKeys {
		if strings.Contains(lower, key) {
			body = maskJSONValue(body, key)
		}
	}
	return body
}

// maskJSONValue does a best-effort mask of the JSON string value for key
func maskJSONValue(body, key string) string {
	lower := strings.ToLower(body)
	idx := strings.Index(lower, "\""+key+"\"")
	if idx == -1 {
		return body
	}

	colonIdx := strings.Index(body[idx+len(key)+2:], ":")
	if colonIdx == -1 {
		return body
	}
	valueStart := idx + len(key) + 2 + colonIdx + 1

	for valueStart < len(body) && (body[valueStart] == ' ' || body[valueStart] == '\t') {
		valueStart++
	}
	if valueStart >= len(body) {
		return body
	}

	if body[valueStart] == '"' {
		endQuote := strings.Index(body[valueStart+1:], "\"")
		if endQuote == -1 {
			return body
		}
		return body[:valueStart+1] + "***" + body[valueStart+1+endQuote:]
	}
	return body
}
