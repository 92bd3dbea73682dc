package server

import (
	"context"
	"fmt"

	"pipestock/internal/client"
	"pipestock/internal/misc"
	"pipestock/internal/model"
)

// notifyLowStock pushes a low stock alert for i to the configured FCM topic. Failures are only logged.
func (s Server) notifyLowStock(ctx context.Context, i model.StockItem) {
	itemName := misc.StringLimit(i.Description(), 45)
	if !s.Client.Enabled() {
		s.Logger.Debugf("notifyLowStock: FCM is not configured, skipping alert for: %s, ID: %s", itemName, i.ID)
		return
	}

	n := client.FCMNotification{
		Title: "Stock is running low",
		Body:  fmt.Sprintf("%s is down to %d %s", itemName, i.Quantity, unitOrDefault(i.Unit)),
		Sound: "default",
	}
	d := client.FCMData{PipelineID: i.ID, Quantity: i.Quantity}
	s.Logger.Infof("notifyLowStock: Sending low stock alert to topic: %s for: %s, ID: %s", s.FCMTopic, itemName, i.ID)
	resp, err := s.Client.FCMSendToTopic(ctx, s.FCMTopic, n, d)
	s.Metrics.RecordLowStockAlert(err)
	if err != nil {
		s.Logger.Errorf("notifyLowStock: Error sending alert for: %s, ID: %s, err: %v", itemName, i.ID, err)
		return
	}
	s.Logger.Debugf("notifyLowStock: FCMSendResponse for: %s, ID: %s, resp: %+v", itemName, i.ID, resp)
}

func unitOrDefault(unit string) string {
	if unit == "" {
		return "units"
	}
	return unit
}
