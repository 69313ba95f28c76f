// Package server implements the HTTP surface of the chatbot.
//
// This package provides:
//   - A cron endpoint that runs one repository check batch
//   - The Google Chat webhook endpoint for space and message events
//   - Health and status endpoints for monitoring
//   - Structured logging of all HTTP requests
//
// The server integrates with other packages:
//   - internal/repository: registered repositories
//   - internal/chatbot: check batches and inbound event dispatch
//   - internal/store: stored build state, thread and check history
//
// Security features:
//   - Repository slug validation on every path and query parameter
//   - Content-Type validation (application/json only)
//   - Payload size limits (1MB max)
//   - Rate limiting (global and per trigger route)
package server
