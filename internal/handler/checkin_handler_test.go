package handler

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/gympulse/gympulse-api/internal/models"
	"github.com/gympulse/gympulse-api/internal/service"
)

type stubPublisher struct {
	published int
	err       error
}

func (s *stubPublisher) Publish(context.Context, string, []byte) error {
	if s.err != nil {
		return s.err
	}
	s.published++
	return nil
}

type stubVisitHistory struct {
	visits []models.Visit
}

func (s *stubVisitHistory) HistoryByStudent(context.Context, int64, int) ([]models.Visit, error) {
	return s.visits, nil
}

type stubStudentChecker struct {
	exists bool
}

func (s *stubStudentChecker) Exists(context.Context, int64) (bool, error) {
	return s.exists, nil
}

func newCheckinHandler(publisher *stubPublisher, exists bool) *CheckinHandler {
	svc := service.NewCheckinService(publisher, &stubVisitHistory{visits: []models.Visit{{ID: "v1", StudentID: 7}}},
		&stubStudentChecker{exists: exists}, nil, nil, nil)
	return NewCheckinHandler(svc)
}

func newGinContext(method, path string, body []byte) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	return c, w
}

func TestCheckinHandlerRegisterAccepted(t *testing.T) {
	gin.SetMode(gin.TestMode)
	publisher := &stubPublisher{}
	handler := newCheckinHandler(publisher, true)

	c, w := newGinContext(http.MethodPost, "/checkins", []byte(`{"student_id":7,"type":"entrada"}`))
	handler.Register(c)
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Equal(t, 1, publisher.published)
}

func TestCheckinHandlerRegisterRejectsBadPayload(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newCheckinHandler(&stubPublisher{}, true)

	c, w := newGinContext(http.MethodPost, "/checkins", []byte(`{not json`))
	handler.Register(c)
	require.Equal(t, http.StatusBadRequest, w.Code)

	c, w = newGinContext(http.MethodPost, "/checkins", []byte(`{"student_id":7,"type":"lunch"}`))
	handler.Register(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCheckinHandlerRegisterQueueDown(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newCheckinHandler(&stubPublisher{err: errors.New("connection refused")}, true)

	c, w := newGinContext(http.MethodPost, "/checkins", []byte(`{"student_id":7,"type":"entrada"}`))
	handler.Register(c)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestCheckinHandlerRegisterBatch(t *testing.T) {
	gin.SetMode(gin.TestMode)
	publisher := &stubPublisher{}
	handler := newCheckinHandler(publisher, true)

	body := []byte(`{"checkins":[{"student_id":1,"type":"entrada"},{"student_id":2,"type":"saida"}]}`)
	c, w := newGinContext(http.MethodPost, "/checkins/batch", body)
	handler.RegisterBatch(c)
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Equal(t, 1, publisher.published)

	c, w = newGinContext(http.MethodPost, "/checkins/batch", []byte(`{"checkins":[]}`))
	handler.RegisterBatch(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCheckinHandlerHistory(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newCheckinHandler(&stubPublisher{}, true)

	c, w := newGinContext(http.MethodGet, "/students/7/visits", nil)
	c.Params = gin.Params{{Key: "id", Value: "7"}}
	handler.History(c)
	require.Equal(t, http.StatusOK, w.Code)

	c, w = newGinContext(http.MethodGet, "/students/abc/visits", nil)
	c.Params = gin.Params{{Key: "id", Value: "abc"}}
	handler.History(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCheckinHandlerHistoryUnknownStudent(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newCheckinHandler(&stubPublisher{}, false)

	c, w := newGinContext(http.MethodGet, "/students/99/visits", nil)
	c.Params = gin.Params{{Key: "id", Value: "99"}}
	handler.History(c)
	require.Equal(t, http.StatusNotFound, w.Code)
}
