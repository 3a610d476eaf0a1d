package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusmatch/call-server-go/internal/middleware"
	"github.com/campusmatch/call-server-go/internal/model"
	"github.com/campusmatch/call-server-go/internal/service"
)

type stubSessionRepo struct {
	findByID              func(ctx context.Context, id string) (*model.CallSession, error)
	create                func(ctx context.Context, params model.CreateCallSessionParams) (*model.CallSession, error)
	conditionalTransition func(ctx context.Context, id string, expected, next model.CallStatus, answeredAt, endedAt *time.Time) (bool, error)
	listActiveOrRinging   func(ctx context.Context, userID string) ([]model.CallSession, error)
}

func (s *stubSessionRepo) FindByID(ctx context.Context, id string) (*model.CallSession, error) {
	if s.findByID != nil {
		return s.findByID(ctx, id)
	}
	return nil, nil
}

func (s *stubSessionRepo) Create(ctx context.Context, params model.CreateCallSessionParams) (*model.CallSession, error) {
	if s.create != nil {
		return s.create(ctx, params)
	}
	return nil, nil
}

func (s *stubSessionRepo) ConditionalTransition(ctx context.Context, id string, expected, next model.CallStatus, answeredAt, endedAt *time.Time) (bool, error) {
	if s.conditionalTransition != nil {
		return s.conditionalTransition(ctx, id, expected, next, answeredAt, endedAt)
	}
	return false, nil
}

func (s *stubSessionRepo) ListActiveOrRinging(ctx context.Context, userID string) ([]model.CallSession, error) {
	if s.listActiveOrRinging != nil {
		return s.listActiveOrRinging(ctx, userID)
	}
	return nil, nil
}

func (s *stubSessionRepo) ListOverdueRinging(ctx context.Context, olderThan time.Time) ([]model.CallSession, error) {
	return nil, nil
}

type stubMatchRepo struct {
	findActiveByID func(ctx context.Context, id string) (*model.Match, error)
}

func (s *stubMatchRepo) FindActiveByID(ctx context.Context, id string) (*model.Match, error) {
	if s.findActiveByID != nil {
		return s.findActiveByID(ctx, id)
	}
	return nil, nil
}

type stubPresence struct{ online bool }

func (s *stubPresence) IsOnline(ctx context.Context, userID string) (bool, error) {
	return s.online, nil
}

type stubMinter struct{}

func (s *stubMinter) AppID() string { return "app-1" }

func (s *stubMinter) Mint(now time.Time, channelName, uid string, role model.TokenRole) (string, error) {
	return "credential-for-" + uid, nil
}

type stubBroadcaster struct{}

func (s *stubBroadcaster) PublishHint(ctx context.Context, toUserID string, hint model.CallHint) error {
	return nil
}

func (s *stubBroadcaster) PublishTransition(ctx context.Context, userID, sessionID string, status model.CallStatus) error {
	return nil
}

func (s *stubBroadcaster) PublishMissedCall(ctx context.Context, userID, sessionID, callerID string) error {
	return nil
}

type stubSupervisor struct{}

func (s *stubSupervisor) Arm(session *model.CallSession) {}

func (s *stubSupervisor) Cancel(sessionID string) {}

func newTestRouter(sessions *stubSessionRepo, matches *stubMatchRepo) chi.Router {
	callService := service.NewCallService(
		sessions, matches,
		&stubPresence{online: true},
		&stubMinter{},
		&stubBroadcaster{},
		&stubSupervisor{},
	)
	h := NewCallHandler(callService)

	r := chi.NewRouter()
	r.Mount("/calls", h.Routes())
	return r
}

func doRequest(t *testing.T, router chi.Router, userID, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req = req.WithContext(context.WithValue(req.Context(), middleware.UserIDContextKey, userID))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func handlerMatch(a, b string) *model.Match {
	return &model.Match{
		ID:     "match-1",
		UserA:  a,
		UserB:  b,
		Status: model.MatchStatusActive,
	}
}

func handlerSession(id, callerID, receiverID string, status model.CallStatus) *model.CallSession {
	return &model.CallSession{
		ID:          id,
		CallerID:    callerID,
		ReceiverID:  receiverID,
		MatchID:     "match-1",
		ChannelName: "call_1_abc",
		Credential:  "credential-for-" + callerID,
		AppID:       "app-1",
		CallType:    model.CallTypeAudio,
		Status:      status,
		CreatedAt:   time.Now(),
	}
}

func TestCallHandlerDial(t *testing.T) {
	t.Run("returns 201 with the created session", func(t *testing.T) {
		sessions := &stubSessionRepo{
			create: func(ctx context.Context, params model.CreateCallSessionParams) (*model.CallSession, error) {
				s := handlerSession(params.ID, params.CallerID, params.ReceiverID, model.CallStatusRinging)
				s.ChannelName = params.ChannelName
				s.Credential = params.Credential
				return s, nil
			},
		}
		matches := &stubMatchRepo{
			findActiveByID: func(ctx context.Context, id string) (*model.Match, error) {
				return handlerMatch("alice", "bob"), nil
			},
		}
		router := newTestRouter(sessions, matches)

		rec := doRequest(t, router, "alice", http.MethodPost, "/calls", map[string]string{
			"receiverId": "bob",
			"matchId":    "match-1",
			"callType":   "audio",
		})

		require.Equal(t, http.StatusCreated, rec.Code)

		var result struct {
			Session      model.CallSession `json:"session"`
			TargetOnline bool              `json:"targetOnline"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		assert.Equal(t, "alice", result.Session.CallerID)
		assert.Equal(t, "bob", result.Session.ReceiverID)
		assert.Equal(t, model.CallStatusRinging, result.Session.Status)
		assert.True(t, result.TargetOnline)
	})

	t.Run("returns 409 when the target is busy", func(t *testing.T) {
		sessions := &stubSessionRepo{
			listActiveOrRinging: func(ctx context.Context, userID string) ([]model.CallSession, error) {
				return []model.CallSession{*handlerSession("other", "bob", "carol", model.CallStatusActive)}, nil
			},
		}
		matches := &stubMatchRepo{
			findActiveByID: func(ctx context.Context, id string) (*model.Match, error) {
				return handlerMatch("alice", "bob"), nil
			},
		}
		router := newTestRouter(sessions, matches)

		rec := doRequest(t, router, "alice", http.MethodPost, "/calls", map[string]string{
			"receiverId": "bob",
			"matchId":    "match-1",
			"callType":   "audio",
		})

		require.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "TARGET_BUSY", decodeError(t, rec)["code"])
	})

	t.Run("returns 403 without an active match", func(t *testing.T) {
		router := newTestRouter(&stubSessionRepo{}, &stubMatchRepo{})

		rec := doRequest(t, router, "alice", http.MethodPost, "/calls", map[string]string{
			"receiverId": "bob",
			"matchId":    "match-1",
			"callType":   "audio",
		})

		require.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "UNAUTHORIZED_MATCH", decodeError(t, rec)["code"])
	})

	t.Run("returns 400 on malformed body", func(t *testing.T) {
		router := newTestRouter(&stubSessionRepo{}, &stubMatchRepo{})

		req := httptest.NewRequest(http.MethodPost, "/calls", bytes.NewReader([]byte("{not json")))
		req = req.WithContext(context.WithValue(req.Context(), middleware.UserIDContextKey, "alice"))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("returns 400 on missing receiver", func(t *testing.T) {
		router := newTestRouter(&stubSessionRepo{}, &stubMatchRepo{})

		rec := doRequest(t, router, "alice", http.MethodPost, "/calls", map[string]string{
			"matchId":  "match-1",
			"callType": "audio",
		})

		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "MISSING_REQUIRED", decodeError(t, rec)["code"])
	})
}

func TestCallHandlerAccept(t *testing.T) {
	t.Run("returns the session and a receiver credential", func(t *testing.T) {
		sessions := &stubSessionRepo{
			findByID: func(ctx context.Context, id string) (*model.CallSession, error) {
				return handlerSession(id, "alice", "bob", model.CallStatusRinging), nil
			},
			conditionalTransition: func(ctx context.Context, id string, expected, next model.CallStatus, answeredAt, endedAt *time.Time) (bool, error) {
				return true, nil
			},
		}
		router := newTestRouter(sessions, &stubMatchRepo{})

		rec := doRequest(t, router, "bob", http.MethodPost, "/calls/sess-1/accept", nil)

		require.Equal(t, http.StatusOK, rec.Code)

		var result struct {
			Session    model.CallSession `json:"session"`
			Credential string            `json:"credential"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		assert.Equal(t, model.CallStatusActive, result.Session.Status)
		assert.Equal(t, "credential-for-bob", result.Credential)
	})

	t.Run("returns 409 when the ring was already resolved", func(t *testing.T) {
		sessions := &stubSessionRepo{
			findByID: func(ctx context.Context, id string) (*model.CallSession, error) {
				return handlerSession(id, "alice", "bob", model.CallStatusRinging), nil
			},
			conditionalTransition: func(ctx context.Context, id string, expected, next model.CallStatus, answeredAt, endedAt *time.Time) (bool, error) {
				return false, nil
			},
		}
		router := newTestRouter(sessions, &stubMatchRepo{})

		rec := doRequest(t, router, "bob", http.MethodPost, "/calls/sess-1/accept", nil)

		require.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "TRANSITION_CONFLICT", decodeError(t, rec)["code"])
	})

	t.Run("returns 403 when the caller tries to accept", func(t *testing.T) {
		sessions := &stubSessionRepo{
			findByID: func(ctx context.Context, id string) (*model.CallSession, error) {
				return handlerSession(id, "alice", "bob", model.CallStatusRinging), nil
			},
		}
		router := newTestRouter(sessions, &stubMatchRepo{})

		rec := doRequest(t, router, "alice", http.MethodPost, "/calls/sess-1/accept", nil)

		require.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("returns 404 for an unknown session", func(t *testing.T) {
		router := newTestRouter(&stubSessionRepo{}, &stubMatchRepo{})

		rec := doRequest(t, router, "bob", http.MethodPost, "/calls/nope/accept", nil)

		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("returns 403 for an outsider", func(t *testing.T) {
		sessions := &stubSessionRepo{
			findByID: func(ctx context.Context, id string) (*model.CallSession, error) {
				return handlerSession(id, "alice", "bob", model.CallStatusRinging), nil
			},
		}
		router := newTestRouter(sessions, &stubMatchRepo{})

		rec := doRequest(t, router, "mallory", http.MethodPost, "/calls/sess-1/accept", nil)

		require.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestCallHandlerHangup(t *testing.T) {
	t.Run("returns the ended session", func(t *testing.T) {
		sessions := &stubSessionRepo{
			findByID: func(ctx context.Context, id string) (*model.CallSession, error) {
				return handlerSession(id, "alice", "bob", model.CallStatusActive), nil
			},
			conditionalTransition: func(ctx context.Context, id string, expected, next model.CallStatus, answeredAt, endedAt *time.Time) (bool, error) {
				return true, nil
			},
		}
		router := newTestRouter(sessions, &stubMatchRepo{})

		rec := doRequest(t, router, "alice", http.MethodPost, "/calls/sess-1/hangup", nil)

		require.Equal(t, http.StatusOK, rec.Code)

		var session model.CallSession
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
		assert.Equal(t, model.CallStatusEnded, session.Status)
	})

	t.Run("peer having hung up first still returns 200", func(t *testing.T) {
		sessions := &stubSessionRepo{
			findByID: func(ctx context.Context, id string) (*model.CallSession, error) {
				return handlerSession(id, "alice", "bob", model.CallStatusEnded), nil
			},
			conditionalTransition: func(ctx context.Context, id string, expected, next model.CallStatus, answeredAt, endedAt *time.Time) (bool, error) {
				return false, nil
			},
		}
		router := newTestRouter(sessions, &stubMatchRepo{})

		rec := doRequest(t, router, "bob", http.MethodPost, "/calls/sess-1/hangup", nil)

		require.Equal(t, http.StatusOK, rec.Code)

		var session model.CallSession
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
		assert.Equal(t, model.CallStatusEnded, session.Status)
	})
}

func TestCallHandlerGet(t *testing.T) {
	t.Run("participant reads the session", func(t *testing.T) {
		sessions := &stubSessionRepo{
			findByID: func(ctx context.Context, id string) (*model.CallSession, error) {
				return handlerSession(id, "alice", "bob", model.CallStatusRinging), nil
			},
		}
		router := newTestRouter(sessions, &stubMatchRepo{})

		rec := doRequest(t, router, "alice", http.MethodGet, "/calls/sess-1", nil)

		require.Equal(t, http.StatusOK, rec.Code)

		var session model.CallSession
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
		assert.Equal(t, "sess-1", session.ID)
	})

	t.Run("outsider gets 403", func(t *testing.T) {
		sessions := &stubSessionRepo{
			findByID: func(ctx context.Context, id string) (*model.CallSession, error) {
				return handlerSession(id, "alice", "bob", model.CallStatusRinging), nil
			},
		}
		router := newTestRouter(sessions, &stubMatchRepo{})

		rec := doRequest(t, router, "mallory", http.MethodGet, "/calls/sess-1", nil)

		require.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestCallHandlerListActive(t *testing.T) {
	sessions := &stubSessionRepo{
		listActiveOrRinging: func(ctx context.Context, userID string) ([]model.CallSession, error) {
			return []model.CallSession{*handlerSession("sess-1", userID, "bob", model.CallStatusActive)}, nil
		},
	}
	router := newTestRouter(sessions, &stubMatchRepo{})

	rec := doRequest(t, router, "alice", http.MethodGet, "/calls/active", nil)

	require.Equal(t, http.StatusOK, rec.Code)

	var result struct {
		Sessions []model.CallSession `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Len(t, result.Sessions, 1)
	assert.Equal(t, "sess-1", result.Sessions[0].ID)
}
