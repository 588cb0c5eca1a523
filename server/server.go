// Package server exposes the backend over HTTP. Requests are converted to
// registry requests and dispatched; the server itself only knows about
// transport concerns.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"pharmabot/robot"
	"pharmabot/srvreg"

	"github.com/google/uuid"
)

// WebServer handles HTTP requests
type WebServer struct {
	httpAddr        string
	server          *http.Server
	logger          *slog.Logger
	startTime       time.Time
	serviceRegistry *srvreg.ServiceRegistry
	robot           *robot.Controller
}

// NewWebServer creates a new web server
func NewWebServer(httpPort string, logger *slog.Logger, serviceRegistry *srvreg.ServiceRegistry, controller *robot.Controller) *WebServer {
	mux := http.NewServeMux()

	ws := &WebServer{
		httpAddr: ":" + httpPort,
		server: &http.Server{
			Addr:    ":" + httpPort,
			Handler: mux,
		},
		logger:          logger,
		startTime:       time.Now(),
		serviceRegistry: serviceRegistry,
		robot:           controller,
	}

	mux.HandleFunc("/", ws.handleRoot)
	mux.HandleFunc("/debug", ws.handleDebug)
	// Everything else goes through the service registry.
	mux.HandleFunc("/orders", ws.handleAPI)
	mux.HandleFunc("/orders/", ws.handleAPI)
	mux.HandleFunc("/inventory", ws.handleAPI)
	mux.HandleFunc("/inventory/", ws.handleAPI)
	mux.HandleFunc("/robot/", ws.handleAPI)
	mux.HandleFunc("/machines", ws.handleAPI)
	mux.HandleFunc("/machines/", ws.handleAPI)
	mux.HandleFunc("/logs", ws.handleAPI)
	mux.HandleFunc("/version-check", ws.handleAPI)

	return ws
}

// Start starts the web server
func (ws *WebServer) Start() error {
	ws.logger.Info("Starting web server", "addr", ws.httpAddr)
	go func() {
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			ws.logger.Error("Web server error", "error", err)
		}
	}()
	return nil
}

// Shutdown gracefully shuts down the web server
func (ws *WebServer) Shutdown(ctx context.Context) error {
	ws.logger.Info("Shutting down web server")
	return ws.server.Shutdown(ctx)
}

// handleRoot shows a small HTML status page for operators
func (ws *WebServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		JSONError(w, "Not found", http.StatusNotFound)
		return
	}
	if r.Method != http.MethodGet {
		JSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := ws.robot.Status()

	w.Header().Set("Content-Type", "text/html")
	w.Write([]byte("<h1>Pharmacy Pick Robot Backend</h1>"))
	w.Write([]byte(fmt.Sprintf("<p>Robot Mode: %s</p>", status.Mode)))
	w.Write([]byte(fmt.Sprintf("<p>Autopick: %t</p>", status.AutoPick)))
	w.Write([]byte(fmt.Sprintf("<p>Uptime: %s</p>", time.Since(ws.startTime).Round(time.Second))))
}

// handleDebug provides debugging information
func (ws *WebServer) handleDebug(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		JSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := ws.robot.Status()
	debugInfo := map[string]interface{}{
		"robot_mode":  status.Mode,
		"robot_busy":  status.Busy,
		"autopick":    status.AutoPick,
		"http_addr":   ws.httpAddr,
		"uptime":      time.Since(ws.startTime).String(),
		"server_time": time.Now().Format(time.RFC3339),
	}
	if status.Job != nil {
		debugInfo["current_job"] = status.Job
	}

	w.Header().Set("Content-Type", "application/json")
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(debugInfo); err != nil {
		JSONError(w, "Error encoding response: "+err.Error(), http.StatusInternalServerError)
		return
	}
}

// handleAPI dispatches a request through the service registry
func (ws *WebServer) handleAPI(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()

	request, err := srvreg.ConvertHttpRequest(r, requestID)
	if err != nil {
		JSONError(w, "Failed to convert request: "+err.Error(), http.StatusUnprocessableEntity)
		ws.logger.Error("Failed to convert HTTP request", "error", err)
		return
	}

	response, err := request.GenerateResponse(ws.serviceRegistry)
	if response == nil {
		JSONError(w, "Internal server error", http.StatusInternalServerError)
		ws.logger.Error("Handler returned no response", "method", r.Method, "path", r.URL.Path, "error", err)
		return
	}
	if err != nil {
		ws.logger.Info("Request failed",
			"request_id", requestID, "method", r.Method, "path", r.URL.Path,
			"status", response.StatusCode, "error", err)
	} else {
		ws.logger.Info("Request handled",
			"request_id", requestID, "method", r.Method, "path", r.URL.Path,
			"status", response.StatusCode)
	}

	for name, value := range response.Headers {
		w.Header().Set(name, value)
	}
	w.Header().Set("X-Request-Id", requestID)
	w.WriteHeader(response.StatusCode)
	w.Write([]byte(response.Body))
}

// JSONError sends a JSON formatted error response with the given status code and message
func JSONError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
