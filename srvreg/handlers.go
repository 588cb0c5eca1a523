package srvreg

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"pharmabot/hardware"
	"pharmabot/repository"
	"pharmabot/repository/models"
	"pharmabot/robot"
)

var defaultHeaders = map[string]string{"Content-Type": "application/json"}

// jsonBody marshals v, falling back to an empty object on failure.
func jsonBody(v interface{}) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

// ok builds a 200 response with a JSON body.
func ok(v interface{}) *Response {
	return &Response{
		StatusCode: http.StatusOK,
		Headers:    defaultHeaders,
		Body:       jsonBody(v),
	}
}

// errorResponse maps a repository error onto an HTTP response.
func errorResponse(dbErr *repository.RepositoryError) (*Response, error) {
	switch dbErr.Code {
	case repository.ErrCodeNotFound:
		return &Response{
			StatusCode: http.StatusNotFound,
			Headers:    defaultHeaders,
			Body:       fmt.Sprintf(`{"error":"%s"}`, dbErr.Message),
		}, fmt.Errorf("entity not found: %s", dbErr.Message)
	case repository.ErrCodeInsufficientStock:
		return &Response{
			StatusCode: http.StatusBadRequest,
			Headers:    defaultHeaders,
			Body: jsonBody(map[string]interface{}{
				"error":         dbErr.Message,
				"medication_id": dbErr.MedicationID,
				"have":          dbErr.Have,
				"need":          dbErr.Need,
			}),
		}, fmt.Errorf("insufficient stock: %s", dbErr.Message)
	case repository.ErrCodeValidation, repository.ErrCodeInvalidState, repository.PgErrForeignKeyViolation, repository.PgErrCheckViolation, repository.PgErrNotNullViolation:
		return &Response{
			StatusCode: http.StatusBadRequest,
			Headers:    defaultHeaders,
			Body:       fmt.Sprintf(`{"error":"%s"}`, dbErr.Message),
		}, fmt.Errorf("bad request: %s", dbErr.Message)
	case repository.PgErrUniqueViolation:
		return &Response{
			StatusCode: http.StatusConflict,
			Headers:    defaultHeaders,
			Body:       fmt.Sprintf(`{"error":"%s"}`, dbErr.Message),
		}, fmt.Errorf("unique violation: %s", dbErr.Message)
	default:
		return &Response{
			StatusCode: http.StatusInternalServerError,
			Headers:    defaultHeaders,
			Body:       `{"error":"Internal server error"}`,
		}, nil
	}
}

func badRequest(message string) (*Response, error) {
	return &Response{
		StatusCode: http.StatusBadRequest,
		Headers:    defaultHeaders,
		Body:       fmt.Sprintf(`{"error":"%s"}`, message),
	}, fmt.Errorf("%s", message)
}

func unprocessableBody(err error) (*Response, error) {
	return &Response{
		StatusCode: http.StatusUnprocessableEntity,
		Headers:    defaultHeaders,
		Body:       fmt.Sprintf(`{"error":"Invalid body format: %s"}`, err.Error()),
	}, fmt.Errorf("invalid body format")
}

// callerIdentity pulls the acting user out of the request headers the
// dashboard attaches to every administrative call.
func callerIdentity(req *Request) (string, string) {
	userID := req.Headers["X-User-Id"]
	userName := req.Headers["X-User-Name"]
	if userID == "" {
		userID = "system"
	}
	if userName == "" {
		userName = "System"
	}
	return userID, userName
}

func medicationJSON(m *models.Medication) map[string]interface{} {
	return map[string]interface{}{
		"id":            m.ID,
		"name":          m.Name,
		"dosage":        m.Dosage,
		"stock":         m.Stock,
		"location_code": m.LocationCode,
		"upc":           m.UPC,
		"uid":           m.UID,
		"upi":           m.UPI,
		"photo_url":     m.PhotoURL,
	}
}

func orderJSON(o *models.Order) map[string]interface{} {
	return map[string]interface{}{
		"id":           o.ID,
		"patient_name": o.PatientName,
		"status":       o.Status,
		"created_at":   o.CreatedAt.Format(time.RFC3339),
	}
}

func nodeJSON(n *models.HardwareNode) map[string]interface{} {
	out := map[string]interface{}{
		"id":             n.ID,
		"location_label": n.LocationLabel,
		"address":        n.IPv6Address,
		"status":         n.Status,
		"last_scan_type": n.LastScanType,
		"last_scan_data": n.LastScanData,
		"medication_id":  n.AssignedMedicationID,
	}
	if n.LastHeartbeat != nil {
		out["last_heartbeat"] = n.LastHeartbeat.Format(time.RFC3339)
	}
	if n.AssignedMedication != nil {
		out["medication_name"] = n.AssignedMedication.Name
	}
	return out
}

// ----- Orders -----

func (sr *ServiceRegistry) ListOrdersHandler(req *Request) (*Response, error) {
	orders, dbErr := sr.store.GetOrders()
	if dbErr != nil {
		return errorResponse(dbErr)
	}

	out := make([]map[string]interface{}, 0, len(orders))
	for i := range orders {
		out = append(out, orderJSON(&orders[i]))
	}
	return ok(out), nil
}

type orderHandlerBody struct {
	PatientName string                 `json:"patient_name"`
	Items       []repository.OrderLine `json:"items"`
}

func (sr *ServiceRegistry) CreateOrderHandler(req *Request) (*Response, error) {
	var body orderHandlerBody
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		sr.logger.Info("Failed to parse body", "error", err.Error())
		return unprocessableBody(err)
	}

	orderID, dbErr := sr.store.CreateOrder(body.PatientName, body.Items)
	if dbErr != nil {
		return errorResponse(dbErr)
	}

	userID, userName := callerIdentity(req)
	sr.store.LogActivity(userID, userName, "ORDER_CREATED",
		fmt.Sprintf("Order #%d for %s (%d items)", orderID, body.PatientName, len(body.Items)))

	return &Response{
		StatusCode: http.StatusCreated,
		Headers:    defaultHeaders,
		Body:       fmt.Sprintf(`{"message":"Order created","id":%d}`, orderID),
	}, nil
}

func (sr *ServiceRegistry) EditOrderHandler(req *Request) (*Response, error) {
	orderID, err := pathID(req.Path, 2)
	if err != nil {
		return badRequest("Invalid order id")
	}

	var body orderHandlerBody
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		sr.logger.Info("Failed to parse body", "error", err.Error())
		return unprocessableBody(err)
	}

	if dbErr := sr.store.EditOrder(orderID, body.PatientName, body.Items); dbErr != nil {
		return errorResponse(dbErr)
	}

	userID, userName := callerIdentity(req)
	sr.store.LogActivity(userID, userName, "ORDER_UPDATED",
		fmt.Sprintf("Order #%d for %s", orderID, body.PatientName))

	return ok(map[string]interface{}{"message": "Order updated", "id": orderID}), nil
}

func (sr *ServiceRegistry) DeleteOrderHandler(req *Request) (*Response, error) {
	orderID, err := pathID(req.Path, 2)
	if err != nil {
		return badRequest("Invalid order id")
	}

	if dbErr := sr.store.DeleteOrder(orderID); dbErr != nil {
		return errorResponse(dbErr)
	}

	userID, userName := callerIdentity(req)
	sr.store.LogActivity(userID, userName, "ORDER_DELETED", fmt.Sprintf("Order #%d", orderID))

	return ok(map[string]interface{}{"message": "Order deleted, stock restored", "id": orderID}), nil
}

// OrderDetailHandler returns one order with its item lines.
func (sr *ServiceRegistry) OrderDetailHandler(req *Request) (*Response, error) {
	orderID, err := pathID(req.Path, 2)
	if err != nil {
		return badRequest("Invalid order id")
	}

	order, dbErr := sr.store.GetOrder(orderID)
	if dbErr != nil {
		return errorResponse(dbErr)
	}
	items, dbErr := sr.store.GetOrderItems(orderID)
	if dbErr != nil {
		return errorResponse(dbErr)
	}

	out := orderJSON(order)
	out["items"] = items
	return ok(out), nil
}

func (sr *ServiceRegistry) OrderItemsHandler(req *Request) (*Response, error) {
	orderID, err := pathID(req.Path, 2)
	if err != nil {
		return badRequest("Invalid order id")
	}

	items, dbErr := sr.store.GetOrderItems(orderID)
	if dbErr != nil {
		return errorResponse(dbErr)
	}
	return ok(items), nil
}

type orderStatusHandlerBody struct {
	Status string `json:"status"`
}

// SetOrderStatusHandler writes an order status directly. Administrative use
// only; the named transitions (complete, dispense) are preferred.
func (sr *ServiceRegistry) SetOrderStatusHandler(req *Request) (*Response, error) {
	orderID, err := pathID(req.Path, 2)
	if err != nil {
		return badRequest("Invalid order id")
	}

	var body orderStatusHandlerBody
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		sr.logger.Info("Failed to parse body", "error", err.Error())
		return unprocessableBody(err)
	}

	if dbErr := sr.store.SetOrderStatus(orderID, body.Status); dbErr != nil {
		return errorResponse(dbErr)
	}

	userID, userName := callerIdentity(req)
	sr.store.LogActivity(userID, userName, "ORDER_STATUS_SET",
		fmt.Sprintf("Order #%d set to %s", orderID, body.Status))

	return ok(map[string]interface{}{"message": "Order status updated", "id": orderID, "status": body.Status}), nil
}

// CompleteOrderHandler marks an order READY for pickup. The explicit step
// exists so a pharmacist confirms the tray before the patient is called.
func (sr *ServiceRegistry) CompleteOrderHandler(req *Request) (*Response, error) {
	orderID, err := pathID(req.Path, 2)
	if err != nil {
		return badRequest("Invalid order id")
	}

	if dbErr := sr.store.SetOrderStatus(orderID, models.OrderStatusReady); dbErr != nil {
		return errorResponse(dbErr)
	}

	userID, userName := callerIdentity(req)
	sr.store.LogActivity(userID, userName, "ORDER_READY", fmt.Sprintf("Order #%d marked ready for pickup", orderID))

	return ok(map[string]interface{}{"message": "Order ready for pickup", "id": orderID}), nil
}

func (sr *ServiceRegistry) DispenseOrderHandler(req *Request) (*Response, error) {
	orderID, err := pathID(req.Path, 2)
	if err != nil {
		return badRequest("Invalid order id")
	}

	order, dbErr := sr.store.DispenseOrder(orderID)
	if dbErr != nil {
		return errorResponse(dbErr)
	}

	userID, userName := callerIdentity(req)
	sr.store.LogActivity(userID, userName, "ORDER_DISPENSED",
		fmt.Sprintf("Order #%d dispensed to %s", order.ID, order.PatientName))

	return ok(map[string]interface{}{"message": "Order dispensed", "order": orderJSON(order)}), nil
}

// ----- Inventory -----

func (sr *ServiceRegistry) ListInventoryHandler(req *Request) (*Response, error) {
	meds, dbErr := sr.store.ListMedications()
	if dbErr != nil {
		return errorResponse(dbErr)
	}

	out := make([]map[string]interface{}, 0, len(meds))
	for i := range meds {
		out = append(out, medicationJSON(&meds[i]))
	}
	return ok(out), nil
}

func (sr *ServiceRegistry) GetMedicationHandler(req *Request) (*Response, error) {
	id, err := pathID(req.Path, 2)
	if err != nil {
		return badRequest("Invalid medication id")
	}

	med, dbErr := sr.store.GetMedication(id)
	if dbErr != nil {
		return errorResponse(dbErr)
	}
	return ok(medicationJSON(med)), nil
}

type medicationHandlerBody struct {
	Name         string  `json:"name"`
	Dosage       string  `json:"dosage"`
	Stock        int     `json:"stock"`
	LocationCode string  `json:"location_code"`
	UPC          string  `json:"upc"`
	UID          *string `json:"uid"`
	PhotoURL     string  `json:"photo_url"`
}

func (b *medicationHandlerBody) toModel() *models.Medication {
	return &models.Medication{
		Name:         b.Name,
		Dosage:       b.Dosage,
		Stock:        b.Stock,
		LocationCode: b.LocationCode,
		UPC:          b.UPC,
		UID:          b.UID,
		PhotoURL:     b.PhotoURL,
	}
}

func (sr *ServiceRegistry) AddMedicationHandler(req *Request) (*Response, error) {
	var body medicationHandlerBody
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		sr.logger.Info("Failed to parse body", "error", err.Error())
		return unprocessableBody(err)
	}

	med := body.toModel()
	if dbErr := sr.store.AddMedication(med); dbErr != nil {
		return errorResponse(dbErr)
	}

	userID, userName := callerIdentity(req)
	sr.store.LogActivity(userID, userName, "MEDICATION_ADDED",
		fmt.Sprintf("%s %s at %s", med.Name, med.Dosage, med.LocationCode))

	return &Response{
		StatusCode: http.StatusCreated,
		Headers:    defaultHeaders,
		Body:       jsonBody(medicationJSON(med)),
	}, nil
}

func (sr *ServiceRegistry) UpdateMedicationHandler(req *Request) (*Response, error) {
	id, err := pathID(req.Path, 2)
	if err != nil {
		return badRequest("Invalid medication id")
	}

	var body medicationHandlerBody
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		sr.logger.Info("Failed to parse body", "error", err.Error())
		return unprocessableBody(err)
	}

	if dbErr := sr.store.UpdateMedication(id, body.toModel()); dbErr != nil {
		return errorResponse(dbErr)
	}

	med, dbErr := sr.store.GetMedication(id)
	if dbErr != nil {
		return errorResponse(dbErr)
	}

	userID, userName := callerIdentity(req)
	sr.store.LogActivity(userID, userName, "MEDICATION_UPDATED", fmt.Sprintf("Medication #%d %s", id, med.Name))

	return ok(medicationJSON(med)), nil
}

func (sr *ServiceRegistry) DeleteMedicationHandler(req *Request) (*Response, error) {
	id, err := pathID(req.Path, 2)
	if err != nil {
		return badRequest("Invalid medication id")
	}

	if dbErr := sr.store.DeleteMedication(id); dbErr != nil {
		return errorResponse(dbErr)
	}

	userID, userName := callerIdentity(req)
	sr.store.LogActivity(userID, userName, "MEDICATION_DELETED", fmt.Sprintf("Medication #%d", id))

	return ok(map[string]interface{}{"message": "Medication deleted", "id": id}), nil
}

// ----- Robot -----

func (sr *ServiceRegistry) RobotStatusHandler(req *Request) (*Response, error) {
	return ok(sr.robot.Status()), nil
}

type robotModeHandlerBody struct {
	Mode string `json:"mode"`
}

func (sr *ServiceRegistry) RobotModeHandler(req *Request) (*Response, error) {
	var body robotModeHandlerBody
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		sr.logger.Info("Failed to parse body", "error", err.Error())
		return unprocessableBody(err)
	}
	if !robot.ValidMode(body.Mode) {
		return badRequest(fmt.Sprintf("Unknown mode %s", body.Mode))
	}

	sr.robot.SetMode(robot.Mode(body.Mode))
	return ok(sr.robot.Status()), nil
}

type robotAutoPickHandlerBody struct {
	Enabled bool `json:"enabled"`
}

func (sr *ServiceRegistry) RobotAutoPickHandler(req *Request) (*Response, error) {
	var body robotAutoPickHandlerBody
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		sr.logger.Info("Failed to parse body", "error", err.Error())
		return unprocessableBody(err)
	}

	// Items that hit their retry cap get a fresh run when autopick comes
	// back on.
	if body.Enabled && sr.scheduler != nil {
		sr.scheduler.ResetFailures()
	}
	sr.robot.SetAutoPick(body.Enabled)
	return ok(sr.robot.Status()), nil
}

type robotPickHandlerBody struct {
	OrderItemID  int64  `json:"order_item_id"`
	LocationCode string `json:"location_code"`
}

func (sr *ServiceRegistry) RobotPickHandler(req *Request) (*Response, error) {
	var body robotPickHandlerBody
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		sr.logger.Info("Failed to parse body", "error", err.Error())
		return unprocessableBody(err)
	}
	if body.OrderItemID == 0 {
		return badRequest("order_item_id is required")
	}

	item, dbErr := sr.store.GetOrderItem(body.OrderItemID)
	if dbErr != nil {
		return errorResponse(dbErr)
	}
	if item.Status != models.ItemStatusPending {
		return badRequest(fmt.Sprintf("Order item %d is already %s", item.ID, item.Status))
	}

	locationCode := body.LocationCode
	if locationCode == "" && item.Medication != nil {
		locationCode = item.Medication.LocationCode
	}

	job, err := sr.robot.Pick(item.ID, locationCode)
	if err != nil {
		return robotErrorResponse(err)
	}

	if dbErr := sr.store.MarkItemPicked(item.ID); dbErr != nil {
		sr.robot.AbortJob()
		return errorResponse(dbErr)
	}

	return ok(map[string]interface{}{"message": "Pick started", "job": job}), nil
}

func robotErrorResponse(err error) (*Response, error) {
	status := http.StatusServiceUnavailable
	if err == robot.ErrRobotBusy {
		status = http.StatusConflict
	}
	return &Response{
		StatusCode: status,
		Headers:    defaultHeaders,
		Body:       fmt.Sprintf(`{"error":"%s"}`, err.Error()),
	}, err
}

func (sr *ServiceRegistry) RobotCompleteHandler(req *Request) (*Response, error) {
	sr.robot.CompleteJob()
	return ok(sr.robot.Status()), nil
}

func (sr *ServiceRegistry) RobotAbortHandler(req *Request) (*Response, error) {
	sr.robot.AbortJob()
	return ok(sr.robot.Status()), nil
}

// RobotNextJobHandler answers node polling: the job in flight, or when the
// robot is idle, what the orchestrator would schedule next.
func (sr *ServiceRegistry) RobotNextJobHandler(req *Request) (*Response, error) {
	if job := sr.robot.CurrentJob(); job != nil {
		return ok(map[string]interface{}{"job": job}), nil
	}

	candidate, dbErr := sr.store.NextPendingItem(nil)
	if dbErr != nil {
		return errorResponse(dbErr)
	}
	if candidate == nil {
		return ok(map[string]interface{}{"job": nil}), nil
	}
	return ok(map[string]interface{}{"job": map[string]interface{}{
		"order_item_id": candidate.ItemID,
		"order_id":      candidate.OrderID,
		"location_code": candidate.LocationCode,
		"medication":    candidate.Name,
	}}), nil
}

type robotScanHandlerBody struct {
	NodeID  int64  `json:"node_id"`
	TagType string `json:"tag_type"`
	TagID   string `json:"tag_id"`
	UPC     string `json:"upc"`
}

// RobotScanHandler ingests a scan event reported by a fleet node.
func (sr *ServiceRegistry) RobotScanHandler(req *Request) (*Response, error) {
	var body robotScanHandlerBody
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		sr.logger.Info("Failed to parse body", "error", err.Error())
		return unprocessableBody(err)
	}
	if body.NodeID == 0 || body.TagID == "" {
		return badRequest("node_id and tag_id are required")
	}

	node, dbErr := sr.store.GetNode(body.NodeID)
	if dbErr != nil {
		return errorResponse(dbErr)
	}
	if dbErr := sr.store.RecordNodeScan(body.NodeID, body.TagType, body.TagID, body.UPC); dbErr != nil {
		return errorResponse(dbErr)
	}

	result := sr.robot.RecordScan(node.Addr(), body.TagType, body.TagID)
	return ok(result), nil
}

// ----- Fleet nodes -----

func (sr *ServiceRegistry) ListMachinesHandler(req *Request) (*Response, error) {
	nodes, dbErr := sr.store.ListNodes()
	if dbErr != nil {
		return errorResponse(dbErr)
	}

	out := make([]map[string]interface{}, 0, len(nodes))
	for i := range nodes {
		out = append(out, nodeJSON(&nodes[i]))
	}
	return ok(out), nil
}

func (sr *ServiceRegistry) GetMachineHandler(req *Request) (*Response, error) {
	id, err := pathID(req.Path, 2)
	if err != nil {
		return badRequest("Invalid machine id")
	}

	node, dbErr := sr.store.GetNode(id)
	if dbErr != nil {
		return errorResponse(dbErr)
	}
	return ok(nodeJSON(node)), nil
}

type machineHandlerBody struct {
	Address      *string `json:"address"`
	MedicationID *int64  `json:"medication_id"`
	Label        string  `json:"label"`
}

func (sr *ServiceRegistry) UpdateMachineHandler(req *Request) (*Response, error) {
	id, err := pathID(req.Path, 2)
	if err != nil {
		return badRequest("Invalid machine id")
	}

	var body machineHandlerBody
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		sr.logger.Info("Failed to parse body", "error", err.Error())
		return unprocessableBody(err)
	}

	node, dbErr := sr.store.UpdateNodeConfig(id, body.Address, body.MedicationID, body.Label)
	if dbErr != nil {
		return errorResponse(dbErr)
	}

	userID, userName := callerIdentity(req)
	sr.store.LogActivity(userID, userName, "MACHINE_CONFIGURED", fmt.Sprintf("Node #%d (%s)", id, node.LocationLabel))

	return ok(nodeJSON(node)), nil
}

// IdentifyMachineHandler blinks a node's LED so a technician can locate it.
func (sr *ServiceRegistry) IdentifyMachineHandler(req *Request) (*Response, error) {
	id, err := pathID(req.Path, 2)
	if err != nil {
		return badRequest("Invalid machine id")
	}

	node, dbErr := sr.store.GetNode(id)
	if dbErr != nil {
		return errorResponse(dbErr)
	}
	if node.Addr() == "" {
		return &Response{
			StatusCode: http.StatusNotFound,
			Headers:    defaultHeaders,
			Body:       `{"error":"Machine has no network address"}`,
		}, fmt.Errorf("machine %d has no address", id)
	}

	sr.gateway.Identify(node.Addr(), hardware.ColorWorkingRed)
	return ok(map[string]interface{}{"message": "Identify signal sent", "id": id}), nil
}

func (sr *ServiceRegistry) ReadTagHandler(req *Request) (*Response, error) {
	id, err := pathID(req.Path, 2)
	if err != nil {
		return badRequest("Invalid machine id")
	}

	node, dbErr := sr.store.GetNode(id)
	if dbErr != nil {
		return errorResponse(dbErr)
	}
	if node.Addr() == "" {
		return &Response{
			StatusCode: http.StatusNotFound,
			Headers:    defaultHeaders,
			Body:       `{"error":"Machine has no network address"}`,
		}, fmt.Errorf("machine %d has no address", id)
	}

	kind := "rfid"
	if values, err := url.ParseQuery(req.Query); err == nil {
		if t := values.Get("type"); t != "" {
			kind = t
		}
	}

	data := sr.gateway.ReadTag(node.Addr(), kind)
	return ok(data), nil
}

type writeTagHandlerBody struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// WriteTagHandler writes a payload onto the tag at a node. A write the node
// never acknowledged is reported as 502: the physical tag still holds its
// old contents and the caller must not assume otherwise.
func (sr *ServiceRegistry) WriteTagHandler(req *Request) (*Response, error) {
	id, err := pathID(req.Path, 2)
	if err != nil {
		return badRequest("Invalid machine id")
	}

	var body writeTagHandlerBody
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		sr.logger.Info("Failed to parse body", "error", err.Error())
		return unprocessableBody(err)
	}
	if body.Data == "" {
		return badRequest("data is required")
	}
	if body.Type == "" {
		body.Type = "rfid"
	}

	node, dbErr := sr.store.GetNode(id)
	if dbErr != nil {
		return errorResponse(dbErr)
	}
	if node.Addr() == "" {
		return &Response{
			StatusCode: http.StatusNotFound,
			Headers:    defaultHeaders,
			Body:       `{"error":"Machine has no network address"}`,
		}, fmt.Errorf("machine %d has no address", id)
	}

	result := sr.gateway.WriteTag(node.Addr(), body.Data, body.Type)
	if !result.Committed {
		return &Response{
			StatusCode: http.StatusBadGateway,
			Headers:    defaultHeaders,
			Body:       jsonBody(map[string]interface{}{"error": "Tag write not acknowledged by node", "result": result}),
		}, fmt.Errorf("tag write to machine %d not committed", id)
	}

	userID, userName := callerIdentity(req)
	sr.store.LogActivity(userID, userName, "TAG_WRITTEN", fmt.Sprintf("Node #%d tag %s", id, body.Type))

	return ok(result), nil
}

// MachinePickHandler runs a manual pick at one node, through the robot's
// admission control: the robot must be OPERATIONAL and idle, and the job
// occupies the single flight slot until job-complete or abort. The job
// carries no order item; technicians use it to test a slot.
func (sr *ServiceRegistry) MachinePickHandler(req *Request) (*Response, error) {
	id, err := pathID(req.Path, 2)
	if err != nil {
		return badRequest("Invalid machine id")
	}

	node, dbErr := sr.store.GetNode(id)
	if dbErr != nil {
		return errorResponse(dbErr)
	}
	if node.Addr() == "" {
		return &Response{
			StatusCode: http.StatusNotFound,
			Headers:    defaultHeaders,
			Body:       `{"error":"Machine has no network address"}`,
		}, fmt.Errorf("machine %d has no address", id)
	}

	job, rerr := sr.robot.Pick(0, node.LocationLabel)
	if rerr != nil {
		return robotErrorResponse(rerr)
	}

	sr.gateway.SignalVisual(node.Addr(), hardware.ColorWorkingRed, hardware.AnimPulse)
	return ok(map[string]interface{}{"message": "Pick started", "id": id, "job": job}), nil
}

// ----- Audit and meta -----

func (sr *ServiceRegistry) ListLogsHandler(req *Request) (*Response, error) {
	logs, dbErr := sr.store.ListActivityLogs()
	if dbErr != nil {
		return errorResponse(dbErr)
	}

	out := make([]map[string]interface{}, 0, len(logs))
	for _, entry := range logs {
		out = append(out, map[string]interface{}{
			"id":        entry.ID,
			"user_id":   entry.UserID,
			"user_name": entry.UserName,
			"action":    entry.Action,
			"details":   entry.Details,
			"timestamp": entry.Timestamp.Format(time.RFC3339),
		})
	}
	return ok(out), nil
}

func (sr *ServiceRegistry) VersionCheckHandler(req *Request) (*Response, error) {
	return ok(map[string]interface{}{
		"name":    "pharmabot",
		"version": "1.0.0",
	}), nil
}
