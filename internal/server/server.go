package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"shiftline/internal/app"
	"shiftline/internal/domain"
	"shiftline/internal/engine"
	"shiftline/internal/engine/auth"
	"shiftline/internal/repo"
	"shiftline/internal/session"
)

// Config for the HTTP API handler.
type Config struct {
	App      *app.App
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"object_occupied"`
	Message string         `json:"message" example:"object 1 is occupied by shift #4"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the shiftline API.
func New(cfg Config) (http.Handler, error) {
	if cfg.App == nil {
		return nil, errors.New("server: app is required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	a := cfg.App
	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, a.Repo))
	hcfg := huma.DefaultConfig("Shiftline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerMe(group, a)
	registerShifts(group, a)
	registerEvents(group, a)
	registerHandovers(group, a)
	registerReports(group, a)
	registerDirectory(group, a)
	registerAdmin(group, a)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"permission": fe.Permission})
	}
	var ie auth.InactiveError
	if errors.As(err, &ie) {
		return newAPIError(http.StatusForbidden, "guard_inactive", err.Error(), nil)
	}
	if errors.Is(err, app.ErrUnknownPrincipal) {
		return newAPIError(http.StatusUnauthorized, "unauthorized", err.Error(), nil)
	}
	if errors.Is(err, session.ErrRetriesExhausted) {
		return newAPIError(http.StatusServiceUnavailable, "store_busy", "store busy, try again later", nil)
	}
	if f, ok := engine.AsFailure(err); ok {
		status := failureStatus(f.Code)
		if status == http.StatusInternalServerError {
			return newAPIError(status, "store_error", "internal error", nil)
		}
		return newAPIError(status, strings.ToLower(string(f.Code)), f.Message, map[string]any{"failure": f.Code})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil)
}

func failureStatus(code engine.FailureCode) int {
	switch code {
	case engine.ShiftNotFound, engine.NotFound:
		return http.StatusNotFound
	case engine.NotOwner, engine.NotReceiver, engine.NotSender:
		return http.StatusForbidden
	case engine.InvalidInput:
		return http.StatusUnprocessableEntity
	case engine.StoreError:
		return http.StatusInternalServerError
	default:
		return http.StatusConflict
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusServiceUnavailable:
		return "store_busy"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// authorize resolves the caller and checks perm against the directory role.
func authorize(ctx context.Context, a *app.App, perm string) (domain.Guard, huma.StatusError) {
	p, herr := principalFromRequest(ctx)
	if herr != nil {
		return domain.Guard{}, herr
	}
	g, err := a.Authorize(ctx, p.GuardID, perm)
	if err != nil {
		return g, handleError(err)
	}
	return g, nil
}

// requireUnlessSelf passes when ownerID is the caller, otherwise g must hold perm.
func requireUnlessSelf(a *app.App, g domain.Guard, ownerID int64, perm string) huma.StatusError {
	if g.ID == ownerID {
		return nil
	}
	return handleError(a.Auth.Require(g, perm))
}

var errorStatuses = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusInternalServerError,
	http.StatusServiceUnavailable,
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join("/", basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Shiftline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerMe(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body MeResponse `json:"body"`
	}, error) {
		p, herr := principalFromRequest(ctx)
		if herr != nil {
			return nil, herr
		}
		g, err := a.Principal(ctx, p.GuardID)
		if err != nil {
			return nil, handleError(err)
		}
		var perms []string
		if g.Active {
			perms = a.Auth.Permissions(g.Role)
		}
		return &struct {
			Body MeResponse `json:"body"`
		}{Body: MeResponse{Guard: g, Permissions: nonNilSlice(perms), Source: p.Source}}, nil
	})
}

type shiftPath struct {
	ID int64 `path:"id"`
}

type shiftOutput struct {
	Body domain.Shift `json:"body"`
}

func registerShifts(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID:   "start-shift",
		Method:        http.MethodPost,
		Path:          "/shifts",
		Summary:       "Start a shift on the caller's assigned object",
		DefaultStatus: http.StatusCreated,
		Errors:        errorStatuses,
	}, func(ctx context.Context, input *struct {
		Body StartShiftRequest `json:"body"`
	}) (*shiftOutput, error) {
		g, herr := authorize(ctx, a, auth.PermShiftStart)
		if herr != nil {
			return nil, herr
		}
		guardID := g.ID
		if input.Body.GuardID != 0 && input.Body.GuardID != g.ID {
			if err := a.Auth.Require(g, auth.PermShiftOverride); err != nil {
				return nil, handleError(err)
			}
			guardID = input.Body.GuardID
		}
		s, err := a.Engine.StartShift(ctx, guardID)
		if err != nil {
			return nil, handleError(err)
		}
		return &shiftOutput{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "end-shift",
		Method:      http.MethodPost,
		Path:        "/shifts/{id}/end",
		Summary:     "End a shift on a TEMPORARY_SINGLE object",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *shiftPath) (*shiftOutput, error) {
		g, herr := authorize(ctx, a, auth.PermShiftEnd)
		if herr != nil {
			return nil, herr
		}
		s, err := a.Engine.GetShift(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if herr := requireUnlessSelf(a, g, s.GuardID, auth.PermShiftEndAny); herr != nil {
			return nil, herr
		}
		s, err = a.Engine.EndShift(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &shiftOutput{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-shifts",
		Method:      http.MethodGet,
		Path:        "/shifts",
		Summary:     "List shifts",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *struct {
		GuardID  int64  `query:"guard_id"`
		ObjectID int64  `query:"object_id"`
		Status   string `query:"status"`
		From     string `query:"from"`
		To       string `query:"to"`
		Limit    int    `query:"limit"`
	}) (*struct {
		Body ShiftListResponse `json:"body"`
	}, error) {
		g, herr := authorize(ctx, a, auth.PermShiftRead)
		if herr != nil {
			return nil, herr
		}
		f := repo.ShiftFilters{
			GuardID:  input.GuardID,
			ObjectID: input.ObjectID,
			Status:   domain.ShiftStatus(input.Status),
			Limit:    input.Limit,
		}
		if f.Status != "" && !f.Status.Valid() {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid status", map[string]any{"status": input.Status})
		}
		var err error
		if f.From, err = queryTime(input.From); err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid from", nil)
		}
		if f.To, err = queryTime(input.To); err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid to", nil)
		}
		if !a.Auth.Can(g, auth.PermShiftReadAny) {
			if f.GuardID != 0 && f.GuardID != g.ID {
				return nil, handleError(auth.ForbiddenError{Permission: auth.PermShiftReadAny})
			}
			f.GuardID = g.ID
		}
		items, err := a.Engine.ListShifts(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ShiftListResponse `json:"body"`
		}{Body: ShiftListResponse{Items: nonNilSlice(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-shift",
		Method:      http.MethodGet,
		Path:        "/shifts/{id}",
		Summary:     "Get shift",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *shiftPath) (*shiftOutput, error) {
		g, herr := authorize(ctx, a, auth.PermShiftRead)
		if herr != nil {
			return nil, herr
		}
		s, err := a.Engine.GetShift(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if herr := requireUnlessSelf(a, g, s.GuardID, auth.PermShiftReadAny); herr != nil {
			return nil, herr
		}
		return &shiftOutput{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "shift-summary",
		Method:      http.MethodGet,
		Path:        "/shifts/{id}/summary",
		Summary:     "Render the current shift summary",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *shiftPath) (*struct {
		Body SummaryResponse `json:"body"`
	}, error) {
		g, herr := authorize(ctx, a, auth.PermShiftRead)
		if herr != nil {
			return nil, herr
		}
		s, err := a.Engine.GetShift(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if herr := requireUnlessSelf(a, g, s.GuardID, auth.PermShiftReadAny); herr != nil {
			return nil, herr
		}
		text, err := a.Engine.GenerateSummary(ctx, s.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SummaryResponse `json:"body"`
		}{Body: SummaryResponse{ShiftID: s.ID, Summary: text}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-shift",
		Method:      http.MethodDelete,
		Path:        "/shifts/{id}",
		Summary:     "Delete a shift and its derived rows",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *shiftPath) (*struct {
		Body OKResponse `json:"body"`
	}, error) {
		g, herr := authorize(ctx, a, auth.PermShiftDelete)
		if herr != nil {
			return nil, herr
		}
		if err := a.Engine.DeleteShift(ctx, input.ID, g.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OKResponse `json:"body"`
		}{Body: OKResponse{OK: true}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "override-shift",
		Method:      http.MethodPatch,
		Path:        "/shifts/{id}",
		Summary:     "Administrative shift edit",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *struct {
		ID   int64                `path:"id"`
		Body ShiftOverrideRequest `json:"body"`
	}) (*shiftOutput, error) {
		g, herr := authorize(ctx, a, auth.PermShiftOverride)
		if herr != nil {
			return nil, herr
		}
		s, err := a.Engine.OverrideShift(ctx, input.ID, shiftOverride(input.Body), g.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &shiftOutput{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "guard-active-shift",
		Method:      http.MethodGet,
		Path:        "/guards/{id}/active-shift",
		Summary:     "Active shift of a guard",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body ActiveShiftResponse `json:"body"`
	}, error) {
		g, herr := authorize(ctx, a, auth.PermShiftRead)
		if herr != nil {
			return nil, herr
		}
		if herr := requireUnlessSelf(a, g, input.ID, auth.PermShiftReadAny); herr != nil {
			return nil, herr
		}
		s, ok, err := a.Engine.ActiveShiftFor(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActiveShiftResponse `json:"body"`
		}{Body: activeShift(s, ok)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "object-active-shift",
		Method:      http.MethodGet,
		Path:        "/objects/{id}/active-shift",
		Summary:     "Active shift on an object",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body ActiveShiftResponse `json:"body"`
	}, error) {
		g, herr := authorize(ctx, a, auth.PermShiftRead)
		if herr != nil {
			return nil, herr
		}
		if g.ObjectID == nil || *g.ObjectID != input.ID {
			if err := a.Auth.Require(g, auth.PermShiftReadAny); err != nil {
				return nil, handleError(err)
			}
		}
		s, ok, err := a.Engine.ActiveShiftForObject(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActiveShiftResponse `json:"body"`
		}{Body: activeShift(s, ok)}, nil
	})
}

func activeShift(s domain.Shift, ok bool) ActiveShiftResponse {
	if !ok {
		return ActiveShiftResponse{}
	}
	return ActiveShiftResponse{Active: true, Shift: &s}
}

func queryTime(v string) (string, error) {
	if v == "" {
		return "", nil
	}
	t, err := domain.ParseTime(v)
	if err != nil {
		return "", err
	}
	return domain.FormatTime(t), nil
}

func registerEvents(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-event",
		Method:        http.MethodPost,
		Path:          "/shifts/{id}/events",
		Summary:       "Log an event on an active shift",
		DefaultStatus: http.StatusCreated,
		Errors:        errorStatuses,
	}, func(ctx context.Context, input *struct {
		ID   int64              `path:"id"`
		Body CreateEventRequest `json:"body"`
	}) (*struct {
		Body domain.Event `json:"body"`
	}, error) {
		g, herr := authorize(ctx, a, auth.PermEventWrite)
		if herr != nil {
			return nil, herr
		}
		ev, err := a.Engine.AddEvent(ctx, engine.EventOptions{
			ShiftID:     input.ID,
			AuthorID:    g.ID,
			Type:        domain.EventType(input.Body.Type),
			Description: input.Body.Description,
			AnyAuthor:   a.Auth.Can(g, auth.PermEventWriteAny),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Event `json:"body"`
		}{Body: ev}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/shifts/{id}/events",
		Summary:     "List shift events",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *shiftPath) (*struct {
		Body EventListResponse `json:"body"`
	}, error) {
		g, herr := authorize(ctx, a, auth.PermEventRead)
		if herr != nil {
			return nil, herr
		}
		s, err := a.Engine.GetShift(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if herr := requireUnlessSelf(a, g, s.GuardID, auth.PermShiftReadAny); herr != nil {
			return nil, herr
		}
		items, err := a.Engine.ShiftEvents(ctx, s.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EventListResponse `json:"body"`
		}{Body: EventListResponse{Items: nonNilSlice(items)}}, nil
	})
}

type handoverPath struct {
	ID int64 `path:"id"`
}

type handoverOutput struct {
	Body domain.ShiftHandover `json:"body"`
}

func registerHandovers(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-handover",
		Method:        http.MethodPost,
		Path:          "/handovers",
		Summary:       "Hand the caller's active shift to another guard",
		DefaultStatus: http.StatusCreated,
		Errors:        errorStatuses,
	}, func(ctx context.Context, input *struct {
		Body CreateHandoverRequest `json:"body"`
	}) (*handoverOutput, error) {
		g, herr := authorize(ctx, a, auth.PermHandoverCreate)
		if herr != nil {
			return nil, herr
		}
		h, err := a.Engine.CreateHandover(ctx, input.Body.ShiftID, g.ID, input.Body.ToID)
		if err != nil {
			return nil, handleError(err)
		}
		return &handoverOutput{Body: h}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-handovers",
		Method:      http.MethodGet,
		Path:        "/handovers",
		Summary:     "List handovers",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *struct {
		ShiftID  int64  `query:"shift_id"`
		ObjectID int64  `query:"object_id"`
		ByID     int64  `query:"by_id"`
		ToID     int64  `query:"to_id"`
		Status   string `query:"status"`
		Limit    int    `query:"limit"`
	}) (*struct {
		Body HandoverListResponse `json:"body"`
	}, error) {
		g, herr := authorize(ctx, a, auth.PermHandoverRead)
		if herr != nil {
			return nil, herr
		}
		f := repo.HandoverFilters{
			ShiftID:  input.ShiftID,
			ObjectID: input.ObjectID,
			ByID:     input.ByID,
			ToID:     input.ToID,
			Status:   domain.HandoverStatus(input.Status),
			Limit:    input.Limit,
		}
		if f.Status != "" && !f.Status.Valid() {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid status", map[string]any{"status": input.Status})
		}
		if !a.Auth.Can(g, auth.PermHandoverReadAny) && f.ByID != g.ID && f.ToID != g.ID {
			return nil, handleError(auth.ForbiddenError{Permission: auth.PermHandoverReadAny})
		}
		items, err := a.Engine.ListHandovers(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body HandoverListResponse `json:"body"`
		}{Body: HandoverListResponse{Items: nonNilSlice(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "pending-handovers",
		Method:      http.MethodGet,
		Path:        "/handovers/pending",
		Summary:     "Handovers waiting for or sent by the caller",
		Errors:      errorStatuses,
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body PendingHandoversResponse `json:"body"`
	}, error) {
		g, herr := authorize(ctx, a, auth.PermHandoverRead)
		if herr != nil {
			return nil, herr
		}
		in, err := a.Engine.PendingHandoversFor(ctx, g.ID)
		if err != nil {
			return nil, handleError(err)
		}
		out, err := a.Engine.PendingHandoversBy(ctx, g.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PendingHandoversResponse `json:"body"`
		}{Body: PendingHandoversResponse{Incoming: nonNilSlice(in), Outgoing: nonNilSlice(out)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-handover",
		Method:      http.MethodGet,
		Path:        "/handovers/{id}",
		Summary:     "Get handover",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *handoverPath) (*handoverOutput, error) {
		g, herr := authorize(ctx, a, auth.PermHandoverRead)
		if herr != nil {
			return nil, herr
		}
		h, err := a.Engine.GetHandover(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if g.ID != h.ByID && g.ID != h.ToID {
			if err := a.Auth.Require(g, auth.PermHandoverReadAny); err != nil {
				return nil, handleError(err)
			}
		}
		return &handoverOutput{Body: h}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "accept-handover",
		Method:      http.MethodPost,
		Path:        "/handovers/{id}/accept",
		Summary:     "Accept a handover and start the receiver's shift",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *struct {
		ID   int64                 `path:"id"`
		Body AcceptHandoverRequest `json:"body"`
	}) (*handoverOutput, error) {
		g, herr := authorize(ctx, a, auth.PermHandoverAccept)
		if herr != nil {
			return nil, herr
		}
		h, err := a.Engine.AcceptHandover(ctx, input.ID, g.ID, input.Body.Notes)
		if err != nil {
			return nil, handleError(err)
		}
		return &handoverOutput{Body: h}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-handover",
		Method:      http.MethodPost,
		Path:        "/handovers/{id}/cancel",
		Summary:     "Cancel a handover and restore the source shift",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *struct {
		ID   int64                 `path:"id"`
		Body CancelHandoverRequest `json:"body"`
	}) (*struct {
		Body OKResponse `json:"body"`
	}, error) {
		g, herr := authorize(ctx, a, auth.PermHandoverCancel)
		if herr != nil {
			return nil, herr
		}
		if err := a.Engine.CancelHandover(ctx, input.ID, g.ID, input.Body.Force); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OKResponse `json:"body"`
		}{Body: OKResponse{OK: true}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-handover",
		Method:      http.MethodPost,
		Path:        "/handovers/{id}/reject",
		Summary:     "Return an accepted handover to PENDING",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *struct {
		ID   int64                 `path:"id"`
		Body RejectHandoverRequest `json:"body"`
	}) (*handoverOutput, error) {
		if _, herr := authorize(ctx, a, auth.PermHandoverReject); herr != nil {
			return nil, herr
		}
		byID := input.Body.ByID
		if byID == 0 {
			h, err := a.Engine.GetHandover(ctx, input.ID)
			if err != nil {
				return nil, handleError(err)
			}
			byID = h.ToID
		}
		h, err := a.Engine.RejectHandover(ctx, input.ID, byID, input.Body.Force)
		if err != nil {
			return nil, handleError(err)
		}
		return &handoverOutput{Body: h}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "override-handover",
		Method:      http.MethodPatch,
		Path:        "/handovers/{id}",
		Summary:     "Administrative handover edit",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *struct {
		ID   int64                   `path:"id"`
		Body HandoverOverrideRequest `json:"body"`
	}) (*handoverOutput, error) {
		g, herr := authorize(ctx, a, auth.PermHandoverEdit)
		if herr != nil {
			return nil, herr
		}
		h, err := a.Engine.OverrideHandover(ctx, input.ID, handoverOverride(input.Body), g.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &handoverOutput{Body: h}, nil
	})
}

func registerReports(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "list-reports",
		Method:      http.MethodGet,
		Path:        "/reports",
		Summary:     "List handover reports",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *struct {
		ObjectID int64 `query:"object_id"`
		GuardID  int64 `query:"guard_id"`
		Limit    int   `query:"limit"`
	}) (*struct {
		Body ReportListResponse `json:"body"`
	}, error) {
		if _, herr := authorize(ctx, a, auth.PermReportRead); herr != nil {
			return nil, herr
		}
		items, err := a.Engine.ListReports(ctx, repo.ReportFilters{ObjectID: input.ObjectID, GuardID: input.GuardID, Limit: input.Limit})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReportListResponse `json:"body"`
		}{Body: ReportListResponse{Items: nonNilSlice(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-report",
		Method:      http.MethodGet,
		Path:        "/reports/{id}",
		Summary:     "Get report",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body domain.Report `json:"body"`
	}, error) {
		if _, herr := authorize(ctx, a, auth.PermReportRead); herr != nil {
			return nil, herr
		}
		r, err := a.Engine.GetReport(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Report `json:"body"`
		}{Body: r}, nil
	})
}

func registerDirectory(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "upsert-guard",
		Method:      http.MethodPut,
		Path:        "/guards/{id}",
		Summary:     "Create or replace a guard",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *struct {
		ID   int64              `path:"id"`
		Body UpsertGuardRequest `json:"body"`
	}) (*struct {
		Body domain.Guard `json:"body"`
	}, error) {
		g, herr := authorize(ctx, a, auth.PermDirectoryWrite)
		if herr != nil {
			return nil, herr
		}
		in := domain.Guard{
			ID:       input.ID,
			FullName: strings.TrimSpace(input.Body.FullName),
			Phone:    strings.TrimSpace(input.Body.Phone),
			Role:     domain.Role(input.Body.Role),
			Active:   input.Body.Active == nil || *input.Body.Active,
			ObjectID: input.Body.ObjectID,
		}
		out, err := a.Repo.UpsertGuard(ctx, in, domain.FormatTime(time.Now()))
		if err != nil {
			return nil, handleError(err)
		}
		a.Logger.Info("guard upserted", "guard_id", out.ID, "role", out.Role, "actor_id", g.ID)
		return &struct {
			Body domain.Guard `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-guards",
		Method:      http.MethodGet,
		Path:        "/guards",
		Summary:     "List guards",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *struct {
		ObjectID   int64  `query:"object_id"`
		Role       string `query:"role"`
		ActiveOnly bool   `query:"active_only"`
	}) (*struct {
		Body GuardListResponse `json:"body"`
	}, error) {
		if _, herr := authorize(ctx, a, auth.PermDirectoryRead); herr != nil {
			return nil, herr
		}
		f := repo.GuardFilters{Role: domain.Role(input.Role), ActiveOnly: input.ActiveOnly}
		if input.ObjectID != 0 {
			f.ObjectID = &input.ObjectID
		}
		items, err := a.Repo.ListGuards(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GuardListResponse `json:"body"`
		}{Body: GuardListResponse{Items: nonNilSlice(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "upsert-object",
		Method:      http.MethodPut,
		Path:        "/objects/{id}",
		Summary:     "Create or replace a security object",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *struct {
		ID   int64               `path:"id"`
		Body UpsertObjectRequest `json:"body"`
	}) (*struct {
		Body domain.SecurityObject `json:"body"`
	}, error) {
		g, herr := authorize(ctx, a, auth.PermDirectoryWrite)
		if herr != nil {
			return nil, herr
		}
		in := domain.SecurityObject{
			ID:             input.ID,
			Name:           strings.TrimSpace(input.Body.Name),
			ProtectionType: domain.ProtectionType(input.Body.ProtectionType),
			Active:         input.Body.Active == nil || *input.Body.Active,
		}
		if in.Name == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		out, err := a.Repo.UpsertObject(ctx, in, domain.FormatTime(time.Now()))
		if err != nil {
			return nil, handleError(err)
		}
		a.Logger.Info("object upserted", "object_id", out.ID, "protection_type", out.ProtectionType, "actor_id", g.ID)
		return &struct {
			Body domain.SecurityObject `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-objects",
		Method:      http.MethodGet,
		Path:        "/objects",
		Summary:     "List security objects",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *struct {
		ActiveOnly bool `query:"active_only"`
	}) (*struct {
		Body ObjectListResponse `json:"body"`
	}, error) {
		if _, herr := authorize(ctx, a, auth.PermDirectoryRead); herr != nil {
			return nil, herr
		}
		items, err := a.Repo.ListObjects(ctx, input.ActiveOnly)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ObjectListResponse `json:"body"`
		}{Body: ObjectListResponse{Items: nonNilSlice(items)}}, nil
	})
}

func registerAdmin(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "audit",
		Method:      http.MethodGet,
		Path:        "/admin/audit",
		Summary:     "Scan the store for invariant violations",
		Errors:      errorStatuses,
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body AuditResponse `json:"body"`
	}, error) {
		if _, herr := authorize(ctx, a, auth.PermAuditRead); herr != nil {
			return nil, herr
		}
		v, err := a.Engine.Audit(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AuditResponse `json:"body"`
		}{Body: AuditResponse{Clean: len(v) == 0, Violations: nonNilSlice(v)}}, nil
	})
}
