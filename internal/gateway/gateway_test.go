package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDispatchValidation(t *testing.T) {
	testCases := []struct {
		name     string
		endpoint string
		req      Request
		wantCode string
	}{
		{
			name:     "missing endpoint",
			endpoint: "",
			req:      Request{UserID: "u1", Action: ActionCreate},
			wantCode: CodeConfigError,
		},
		{
			name:     "missing user",
			endpoint: "http://manager.local/webhook",
			req:      Request{Action: ActionCreate},
			wantCode: CodeInvalidPayload,
		},
		{
			name:     "missing action",
			endpoint: "http://manager.local/webhook",
			req:      Request{UserID: "u1"},
			wantCode: CodeInvalidPayload,
		},
		{
			name:     "unknown action",
			endpoint: "http://manager.local/webhook",
			req:      Request{UserID: "u1", Action: Action("restart")},
			wantCode: CodeInvalidAction,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewClient(tc.endpoint, time.Second)
			resp, err := c.Dispatch(context.Background(), tc.req)
			require.Nil(t, resp)
			require.Error(t, err)
			require.Equal(t, tc.wantCode, AsError(err).Code)
		})
	}
}

func TestDispatchSuccess(t *testing.T) {
	var gotBody Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"instance_name":"inst_u1","qr_code_base64":"data:image/png;base64,QQ=="}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	resp, err := c.Dispatch(context.Background(), Request{UserID: "u1", Action: ActionConnect})
	require.NoError(t, err)
	require.Equal(t, "u1", gotBody.UserID)
	require.Equal(t, ActionConnect, gotBody.Action)
	require.False(t, resp.Failed())
	require.Equal(t, "inst_u1", resp.InstanceName)
	require.Equal(t, "data:image/png;base64,QQ==", resp.QRPayload())
}

func TestDispatchFillsInstanceNameFromData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"data":{"instance_name":"inst_u1","action":"create","timestamp":"2025-03-01T12:30:45Z"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	resp, err := c.Dispatch(context.Background(), Request{UserID: "u1", Action: ActionCreate})
	require.NoError(t, err)
	require.Equal(t, "inst_u1", resp.InstanceName, "identity from the data block backfills the top-level field")
}

func TestDispatchKeepsTopLevelInstanceName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"instance_name":"inst_top","data":{"instance_name":"inst_nested"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	resp, err := c.Dispatch(context.Background(), Request{UserID: "u1", Action: ActionCreate})
	require.NoError(t, err)
	require.Equal(t, "inst_top", resp.InstanceName)
}

func TestDispatchQRPayloadPrefersBase64(t *testing.T) {
	r := &Response{QRCode: "raw-pairing"}
	require.Equal(t, "raw-pairing", r.QRPayload())
	r.QRCodeBase64 = "data:image/png;base64,AA"
	require.Equal(t, "data:image/png;base64,AA", r.QRPayload())
}

func TestDispatchOperationFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"message":"instance already exists"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	_, err := c.Dispatch(context.Background(), Request{UserID: "u1", Action: ActionCreate})
	require.Error(t, err)
	ge := AsError(err)
	require.Equal(t, CodeOperationFailed, ge.Code)
	require.Equal(t, "instance already exists", ge.Message)
}

func TestDispatchOperationFailedKeepsBodyCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"message":"nope","code":"INSTANCE_LOCKED"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	_, err := c.Dispatch(context.Background(), Request{UserID: "u1", Action: ActionCreate})
	require.Equal(t, "INSTANCE_LOCKED", AsError(err).Code)
}

func TestDispatchHTTPErrorWithJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"message":"workflow crashed","code":"WORKFLOW_ERROR"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	_, err := c.Dispatch(context.Background(), Request{UserID: "u1", Action: ActionStatus})
	ge := AsError(err)
	require.Equal(t, "WORKFLOW_ERROR", ge.Code)
	require.Equal(t, "workflow crashed", ge.Message)
	require.Equal(t, http.StatusBadGateway, ge.StatusCode)
}

func TestDispatchHTTPErrorWithPlainBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`upstream exploded`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	_, err := c.Dispatch(context.Background(), Request{UserID: "u1", Action: ActionStatus})
	ge := AsError(err)
	require.Equal(t, CodeAPIError, ge.Code)
	require.Equal(t, http.StatusInternalServerError, ge.StatusCode)
	require.Contains(t, ge.Message, "upstream exploded")
}

func TestDispatchInvalidResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>not json</html>`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	_, err := c.Dispatch(context.Background(), Request{UserID: "u1", Action: ActionStatus})
	require.Equal(t, CodeInvalidResponse, AsError(err).Code)
}

func TestDispatchTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 50*time.Millisecond)
	start := time.Now()
	_, err := c.Dispatch(context.Background(), Request{UserID: "u1", Action: ActionConnect})
	require.Less(t, time.Since(start), 250*time.Millisecond)
	require.Equal(t, CodeTimeoutError, AsError(err).Code)
}

func TestDispatchNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := NewClient(srv.URL, time.Second)
	_, err := c.Dispatch(context.Background(), Request{UserID: "u1", Action: ActionConnect})
	require.Equal(t, CodeNetworkError, AsError(err).Code)
}

func TestAsError(t *testing.T) {
	require.Nil(t, AsError(nil))

	ge := NewError("boom", CodeAPIError)
	require.Same(t, ge, AsError(ge))

	wrapped := AsError(context.Canceled)
	require.Equal(t, CodeUnknownError, wrapped.Code)
}

func TestResponseDecodeData(t *testing.T) {
	r := &Response{Data: map[string]interface{}{
		"instance_name": "inst_u1",
		"phone_number":  5511987654321,
		"action":        "create",
		"timestamp":     "2025-03-01 12:30:45",
	}}
	data, err := r.DecodeData()
	require.NoError(t, err)
	require.Equal(t, "inst_u1", data.InstanceName)
	require.Equal(t, "5511987654321", data.PhoneNumber)
	require.Equal(t, "create", data.Action)
	require.Equal(t, 2025, data.Timestamp.Year())

	empty := &Response{}
	data, err = empty.DecodeData()
	require.NoError(t, err)
	require.Nil(t, data)
}
