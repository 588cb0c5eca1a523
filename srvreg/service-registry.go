// Package srvreg routes API requests to their service handlers. Handlers
// work on a transport-neutral Request/Response pair so they can be exercised
// without an HTTP server.
package srvreg

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"pharmabot/hardware"
	"pharmabot/repository"
	"pharmabot/repository/models"
	"pharmabot/robot"
)

// Request represents the client's original HTTP request
type Request struct {
	Method     string            `json:"method"`
	Path       string            `json:"path"`
	Query      string            `json:"query"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
	RemoteAddr string            `json:"remote_addr"`
	RequestID  string            `json:"request_id"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Response represents the computed response from a handler
type Response struct {
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
	Error      string            `json:"error,omitempty"`
}

// ServiceHandler is a function type for service handlers
type ServiceHandler func(*Request) (*Response, error)

// RouteKey is used to uniquely identify a route
type RouteKey struct {
	Method string
	Path   string
}

// Store is the persistence surface the handlers depend on. Satisfied by
// *repository.Repository.
type Store interface {
	ListMedications() ([]models.Medication, *repository.RepositoryError)
	GetMedication(id int64) (*models.Medication, *repository.RepositoryError)
	AddMedication(med *models.Medication) *repository.RepositoryError
	UpdateMedication(id int64, med *models.Medication) *repository.RepositoryError
	DeleteMedication(id int64) *repository.RepositoryError

	CreateOrder(patientName string, lines []repository.OrderLine) (int64, *repository.RepositoryError)
	EditOrder(orderID int64, patientName string, lines []repository.OrderLine) *repository.RepositoryError
	DeleteOrder(orderID int64) *repository.RepositoryError
	GetOrders() ([]models.Order, *repository.RepositoryError)
	GetOrder(orderID int64) (*models.Order, *repository.RepositoryError)
	GetOrderItems(orderID int64) ([]repository.OrderItemDetail, *repository.RepositoryError)
	GetOrderItem(itemID int64) (*models.OrderItem, *repository.RepositoryError)
	SetOrderStatus(orderID int64, status string) *repository.RepositoryError
	MarkItemPicked(itemID int64) *repository.RepositoryError
	NextPendingItem(skip []int64) (*repository.PickCandidate, *repository.RepositoryError)
	DispenseOrder(orderID int64) (*models.Order, *repository.RepositoryError)

	ListNodes() ([]models.HardwareNode, *repository.RepositoryError)
	GetNode(id int64) (*models.HardwareNode, *repository.RepositoryError)
	UpdateNodeConfig(id int64, address *string, medicationID *int64, label string) (*models.HardwareNode, *repository.RepositoryError)
	RecordNodeScan(nodeID int64, tagType, tagID, upc string) *repository.RepositoryError

	LogActivity(userID, userName, action, details string)
	ListActivityLogs() ([]models.ActivityLog, *repository.RepositoryError)
}

// Robot is the pick-robot surface the handlers depend on. Satisfied by
// *robot.Controller.
type Robot interface {
	Status() robot.Status
	SetMode(mode robot.Mode)
	SetAutoPick(enabled bool)
	Pick(orderItemID int64, locationCode string) (*robot.Job, error)
	CompleteJob()
	AbortJob()
	RecordScan(nodeAddr, kind, tagID string) robot.ScanResult
	CurrentJob() *robot.Job
}

// Gateway is the fleet-node surface the handlers depend on. Satisfied by
// *hardware.Gateway.
type Gateway interface {
	SignalVisual(addr, color, animation string)
	Identify(addr, color string)
	ReadTag(addr, kind string) hardware.TagData
	WriteTag(addr, payload, kind string) hardware.TagWriteResult
}

// Scheduler is the orchestrator surface the handlers depend on.
type Scheduler interface {
	ResetFailures()
}

var (
	_ Store   = (*repository.Repository)(nil)
	_ Robot   = (*robot.Controller)(nil)
	_ Gateway = (*hardware.Gateway)(nil)
)

// ServiceRegistry manages all service handlers
type ServiceRegistry struct {
	handlers    map[RouteKey]ServiceHandler
	exactRoutes map[RouteKey]bool
	mu          sync.RWMutex
	store       Store
	robot       Robot
	gateway     Gateway
	scheduler   Scheduler
	logger      *slog.Logger
}

// NewServiceRegistry creates a new service registry
func NewServiceRegistry(store Store, rb Robot, gw Gateway, sched Scheduler, logger *slog.Logger) *ServiceRegistry {
	return &ServiceRegistry{
		handlers:    make(map[RouteKey]ServiceHandler),
		exactRoutes: make(map[RouteKey]bool),
		store:       store,
		robot:       rb,
		gateway:     gw,
		scheduler:   sched,
		logger:      logger,
	}
}

// ConvertHttpRequest converts an http.Request to Request
func ConvertHttpRequest(r *http.Request, requestID string) (*Request, error) {
	headers := make(map[string]string)
	for name, values := range r.Header {
		if len(values) > 0 {
			headers[name] = values[0]
		}
	}

	body := ""
	if r.Body != nil {
		bodyBytes, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, err
		}
		body = strings.TrimSpace(string(bodyBytes))
	}

	return &Request{
		Method:     r.Method,
		Path:       r.URL.Path,
		Query:      r.URL.RawQuery,
		Headers:    headers,
		Body:       body,
		RemoteAddr: r.RemoteAddr,
		RequestID:  requestID,
		Timestamp:  time.Now(),
	}, nil
}

// RegisterHandler registers a new service handler
func (sr *ServiceRegistry) RegisterHandler(method, path string, isExactPath bool, handler ServiceHandler) {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	key := RouteKey{Method: strings.ToUpper(method), Path: path}
	sr.handlers[key] = handler
	sr.exactRoutes[key] = isExactPath
}

// GetHandlerForPath finds the appropriate handler for a given path and a boolean of whether or not the handler was found
func (sr *ServiceRegistry) GetHandlerForPath(method, path string) (ServiceHandler, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	// Try exact match first
	key := RouteKey{Method: strings.ToUpper(method), Path: path}
	if handler, ok := sr.handlers[key]; ok {
		if sr.exactRoutes[key] {
			return handler, true
		}
	}

	// Try pattern matching
	for routeKey, handler := range sr.handlers {
		if routeKey.Method != strings.ToUpper(method) {
			continue
		}
		if sr.exactRoutes[routeKey] {
			continue
		}
		if matchPath(routeKey.Path, path) {
			return handler, true
		}
	}

	return nil, false
}

// matchPath does simple pattern matching for routes.
// It supports patterns like "/orders/:id" matching "/orders/123"
func matchPath(pattern, path string) bool {
	patternParts := strings.Split(pattern, "/")
	pathParts := strings.Split(path, "/")

	if len(patternParts) != len(pathParts) {
		return false
	}

	for i := range patternParts {
		if strings.HasPrefix(patternParts[i], ":") {
			continue
		}
		if patternParts[i] != pathParts[i] {
			return false
		}
	}

	return true
}

// pathID extracts the numeric path segment at index (split on "/", the
// leading empty segment counts).
func pathID(path string, index int) (int64, error) {
	parts := strings.Split(path, "/")
	if index >= len(parts) {
		return 0, fmt.Errorf("invalid path format")
	}
	id, err := strconv.ParseInt(parts[index], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", parts[index])
	}
	return id, nil
}

// RegisterDefaultServices sets up
// the default services for the pharmacy backend
func (sr *ServiceRegistry) RegisterDefaultServices() {
	// Order endpoints
	sr.RegisterHandler("GET", "/orders", true, sr.ListOrdersHandler)
	sr.RegisterHandler("POST", "/orders", true, sr.CreateOrderHandler)
	sr.RegisterHandler("GET", "/orders/:id", false, sr.OrderDetailHandler)
	sr.RegisterHandler("GET", "/orders/:id/items", false, sr.OrderItemsHandler)
	sr.RegisterHandler("PUT", "/orders/:id", false, sr.EditOrderHandler)
	sr.RegisterHandler("DELETE", "/orders/:id", false, sr.DeleteOrderHandler)
	sr.RegisterHandler("PUT", "/orders/:id/status", false, sr.SetOrderStatusHandler)
	sr.RegisterHandler("POST", "/orders/:id/complete", false, sr.CompleteOrderHandler)
	sr.RegisterHandler("POST", "/orders/:id/dispense", false, sr.DispenseOrderHandler)

	// Inventory endpoints
	sr.RegisterHandler("GET", "/inventory", true, sr.ListInventoryHandler)
	sr.RegisterHandler("POST", "/inventory", true, sr.AddMedicationHandler)
	sr.RegisterHandler("GET", "/inventory/:id", false, sr.GetMedicationHandler)
	sr.RegisterHandler("PUT", "/inventory/:id", false, sr.UpdateMedicationHandler)
	sr.RegisterHandler("DELETE", "/inventory/:id", false, sr.DeleteMedicationHandler)

	// Robot endpoints
	sr.RegisterHandler("GET", "/robot/status", true, sr.RobotStatusHandler)
	sr.RegisterHandler("POST", "/robot/mode", true, sr.RobotModeHandler)
	sr.RegisterHandler("POST", "/robot/autopick", true, sr.RobotAutoPickHandler)
	sr.RegisterHandler("POST", "/robot/pick", true, sr.RobotPickHandler)
	sr.RegisterHandler("POST", "/robot/job-complete", true, sr.RobotCompleteHandler)
	sr.RegisterHandler("POST", "/robot/abort", true, sr.RobotAbortHandler)
	sr.RegisterHandler("GET", "/robot/next-job", true, sr.RobotNextJobHandler)
	sr.RegisterHandler("POST", "/robot/scan-identity", true, sr.RobotScanHandler)

	// Fleet node endpoints
	sr.RegisterHandler("GET", "/machines", true, sr.ListMachinesHandler)
	sr.RegisterHandler("GET", "/machines/:id", false, sr.GetMachineHandler)
	sr.RegisterHandler("PUT", "/machines/:id", false, sr.UpdateMachineHandler)
	sr.RegisterHandler("POST", "/machines/:id/identify", false, sr.IdentifyMachineHandler)
	sr.RegisterHandler("POST", "/machines/:id/read-tag", false, sr.ReadTagHandler)
	sr.RegisterHandler("POST", "/machines/:id/write-tag", false, sr.WriteTagHandler)
	sr.RegisterHandler("POST", "/machines/:id/pick", false, sr.MachinePickHandler)

	// Audit and meta endpoints
	sr.RegisterHandler("GET", "/logs", true, sr.ListLogsHandler)
	sr.RegisterHandler("GET", "/version-check", true, sr.VersionCheckHandler)
}

// GenerateResponse executes the request and generates a response
func (req *Request) GenerateResponse(services *ServiceRegistry) (*Response, error) {
	handler, found := services.GetHandlerForPath(req.Method, req.Path)
	if !found {
		return &Response{
			StatusCode: http.StatusNotFound,
			Headers:    map[string]string{"Content-Type": "text/plain"},
			Body:       fmt.Sprintf("Service not found for %s %s", req.Method, req.Path),
		}, nil
	}

	return handler(req)
}
