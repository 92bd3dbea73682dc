package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/pkg/errors"
)

var ErrFCMDisabled = errors.New("fcm key is not configured")

type FCMSendResponse struct {
	MessageID int64   `json:"message_id"`
	Error     *string `json:"error"`
}

type FCMSendRequest struct {
	To           string          `json:"to"`
	Notification FCMNotification `json:"notification"`
	Data         FCMData         `json:"data"`
}

type FCMNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Sound string `json:"sound"`
}

type FCMData struct {
	PipelineID string `json:"pipeline_id"`
	Quantity   int    `json:"quantity"`
}

func (c Client) Enabled() bool {
	return c.FCMKey != ""
}

// FCMSendToTopic sends a message to every device subscribed to topic.
func (c Client) FCMSendToTopic(ctx context.Context, topic string, n FCMNotification, d FCMData) (FCMSendResponse, error) {
	if !c.Enabled() {
		return FCMSendResponse{}, ErrFCMDisabled
	}
	fcmReqBody := FCMSendRequest{To: "/topics/" + topic, Notification: n, Data: d}
	reqBody, err := json.Marshal(fcmReqBody)
	if err != nil {
		return FCMSendResponse{}, errors.Wrapf(err, "FCMSendToTopic: FCMSendRequest JSON marshalling error, req: %+v", fcmReqBody)
	}

	url := c.FCMURL
	if url == "" {
		url = defaultFCMURL
	}
	req, err := newRequest(http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return FCMSendResponse{}, errors.Wrapf(err, "FCMSendToTopic: error creating HTTP request from body: %s", reqBody)
	}
	req = req.WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key="+c.FCMKey)

	resp, err := c.Client.Do(req)
	if err != nil {
		return FCMSendResponse{}, errors.Wrapf(err, "FCMSendToTopic: error doing request to %s", url)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.Logger.Errorf("FCMSendToTopic: error closing response body, topic: %s, err: %v", topic, err)
		}
	}()

	fcmSendResp := FCMSendResponse{}
	respBody, err := io.ReadAll(http.MaxBytesReader(nil, resp.Body, 300000))
	if err != nil {
		return fcmSendResp, errors.Wrapf(err,
			"FCMSendToTopic: error reading FCMSendAPI response body, topic: %s, response body: %s", topic, respBody)
	}
	if resp.StatusCode != http.StatusOK {
		return fcmSendResp, errors.Errorf("FCMSendToTopic: FCMSendAPI responded %d, topic: %s, response body: %s",
			resp.StatusCode, topic, respBody)
	}
	if err = json.Unmarshal(respBody, &fcmSendResp); err != nil {
		return fcmSendResp, errors.Wrapf(err,
			"FCMSendToTopic: error unmarshalling FCMSendAPI response body, topic: %s, response body: %s", topic, respBody)
	}
	if fcmSendResp.Error != nil {
		return fcmSendResp, errors.Errorf("FCMSendToTopic: FCMSendAPI error for topic %s: %s", topic, *fcmSendResp.Error)
	}
	return fcmSendResp, nil
}
