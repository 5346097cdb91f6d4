package api

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	v "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/kolgrow/kolgrow/internal/models"
)

// CreateAccountRequest is the request body for POST /sub-accounts
type CreateAccountRequest struct {
	Platform          string `json:"platform"`
	Username          string `json:"username"`
	Password          string `json:"password"`
	TargetKOLID       string `json:"target_kol_id"`
	DailyLimitFollows int    `json:"daily_limit_follows"`
	DailyLimitDMs     int    `json:"daily_limit_dms"`
}

func (b CreateAccountRequest) Validate() error {
	return v.ValidateStruct(&b,
		v.Field(&b.Platform, v.Required, v.In("x", "instagram")),
		v.Field(&b.Username, v.Required, v.Length(1, 128)),
		v.Field(&b.DailyLimitFollows, v.Min(0)),
		v.Field(&b.DailyLimitDMs, v.Min(0)),
	)
}

// UpdateAccountRequest is the request body for PUT /sub-accounts/{id}
type UpdateAccountRequest struct {
	TargetKOLID       *string `json:"target_kol_id"`
	DailyLimitFollows *int    `json:"daily_limit_follows"`
	DailyLimitDMs     *int    `json:"daily_limit_dms"`
}

func (b UpdateAccountRequest) Validate() error {
	return v.ValidateStruct(&b,
		v.Field(&b.DailyLimitFollows, v.Min(0)),
		v.Field(&b.DailyLimitDMs, v.Min(0)),
	)
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	page, limit := pageParams(r)
	filter := models.AccountListFilter{
		TenantID:    s.tenantID(r),
		TargetKOLID: r.URL.Query().Get("target_kol_id"),
		Platform:    models.Platform(r.URL.Query().Get("platform")),
		Status:      models.AccountStatus(r.URL.Query().Get("status")),
		Limit:       limit,
		Offset:      (page - 1) * limit,
	}

	accounts, total, err := s.deps.Accounts.List(filter)
	if err != nil {
		s.sendErr(w, err)
		return
	}
	s.sendList(w, accounts, total, page, limit)
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	tenant := s.tenantID(r)
	existing, err := s.deps.Accounts.GetByUsername(tenant, models.Platform(req.Platform), req.Username)
	if err != nil {
		s.sendErr(w, err)
		return
	}
	if existing != nil {
		s.sendError(w, http.StatusConflict, "sub-account already exists for this platform")
		return
	}

	account := &models.SubAccount{
		TenantID:          tenant,
		Platform:          models.Platform(req.Platform),
		Username:          req.Username,
		TargetKOLID:       req.TargetKOLID,
		DailyLimitFollows: req.DailyLimitFollows,
		DailyLimitDMs:     req.DailyLimitDMs,
	}
	if account.DailyLimitFollows == 0 {
		account.DailyLimitFollows = s.config.Pool.DefaultDailyFollows
	}
	if account.DailyLimitDMs == 0 {
		account.DailyLimitDMs = s.config.Pool.DefaultDailyDMs
	}
	if req.Password != "" && s.deps.Sealer != nil {
		sealed, err := s.deps.Sealer.Seal([]byte(req.Password))
		if err != nil {
			s.sendErr(w, err)
			return
		}
		account.CredentialSealed = sealed
	}

	if err := s.deps.Accounts.Create(account); err != nil {
		s.sendErr(w, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, account)
}

func (s *Server) getAccount(w http.ResponseWriter, r *http.Request) *models.SubAccount {
	account, err := s.deps.Accounts.GetByID(chi.URLParam(r, "id"))
	if err != nil {
		s.sendErr(w, err)
		return nil
	}
	if account == nil || account.TenantID != s.tenantID(r) {
		s.sendError(w, http.StatusNotFound, "sub-account not found")
		return nil
	}
	return account
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	if account := s.getAccount(w, r); account != nil {
		s.sendJSON(w, http.StatusOK, account)
	}
}

func (s *Server) handleUpdateAccount(w http.ResponseWriter, r *http.Request) {
	account := s.getAccount(w, r)
	if account == nil {
		return
	}

	var req UpdateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.TargetKOLID != nil {
		account.TargetKOLID = *req.TargetKOLID
	}
	if req.DailyLimitFollows != nil {
		account.DailyLimitFollows = *req.DailyLimitFollows
	}
	if req.DailyLimitDMs != nil {
		account.DailyLimitDMs = *req.DailyLimitDMs
	}

	if err := s.deps.Accounts.Update(account); err != nil {
		s.sendErr(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, account)
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	account := s.getAccount(w, r)
	if account == nil {
		return
	}
	if err := s.deps.Accounts.Delete(account.ID); err != nil {
		s.sendErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ImportAccountsRequest is the request body for POST /sub-accounts/import.
// CSVContent rows are username,password[,daily_follows,daily_dms]; a
// header row starting with "username" is skipped.
type ImportAccountsRequest struct {
	Platform    string `json:"platform"`
	CSVContent  string `json:"csv_content"`
	TargetKOLID string `json:"target_kol_id"`
}

func (b ImportAccountsRequest) Validate() error {
	return v.ValidateStruct(&b,
		v.Field(&b.Platform, v.Required, v.In("x", "instagram")),
		v.Field(&b.CSVContent, v.Required),
	)
}

func (s *Server) handleImportAccounts(w http.ResponseWriter, r *http.Request) {
	var req ImportAccountsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.importAccounts(s.tenantID(r), req)
	if err != nil {
		s.sendErr(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, result)
}

func (s *Server) importAccounts(tenant string, req ImportAccountsRequest) (*models.ImportResult, error) {
	reader := csv.NewReader(strings.NewReader(req.CSVContent))
	reader.FieldsPerRecord = -1

	result := &models.ImportResult{Errors: []string{}}
	platform := models.Platform(req.Platform)
	row := 0

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		row++
		if err != nil {
			// A malformed row is skipped and recorded; the reader
			// resumes at the next row.
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				result.TotalRows++
				result.Skipped++
				result.Errors = append(result.Errors, fmt.Sprintf("Row %d: %v", row, parseErr.Err))
				continue
			}
			return nil, err
		}
		if row == 1 && len(record) > 0 && strings.EqualFold(strings.TrimSpace(record[0]), "username") {
			continue
		}
		result.TotalRows++

		skip := func(format string, args ...interface{}) {
			result.Skipped++
			result.Errors = append(result.Errors, fmt.Sprintf("Row %d: %s", row, fmt.Sprintf(format, args...)))
		}

		if len(record) < 1 || strings.TrimSpace(record[0]) == "" {
			skip("missing username")
			continue
		}
		username := strings.TrimSpace(record[0])

		account := &models.SubAccount{
			TenantID:          tenant,
			Platform:          platform,
			Username:          username,
			TargetKOLID:       req.TargetKOLID,
			DailyLimitFollows: s.config.Pool.DefaultDailyFollows,
			DailyLimitDMs:     s.config.Pool.DefaultDailyDMs,
		}

		if len(record) > 1 && strings.TrimSpace(record[1]) != "" && s.deps.Sealer != nil {
			sealed, err := s.deps.Sealer.Seal([]byte(strings.TrimSpace(record[1])))
			if err != nil {
				skip("sealing credentials: %v", err)
				continue
			}
			account.CredentialSealed = sealed
		}
		if len(record) > 2 {
			n, err := strconv.Atoi(strings.TrimSpace(record[2]))
			if err != nil || n < 0 {
				skip("invalid daily follow limit %q", record[2])
				continue
			}
			account.DailyLimitFollows = n
		}
		if len(record) > 3 {
			n, err := strconv.Atoi(strings.TrimSpace(record[3]))
			if err != nil || n < 0 {
				skip("invalid daily dm limit %q", record[3])
				continue
			}
			account.DailyLimitDMs = n
		}

		existing, err := s.deps.Accounts.GetByUsername(tenant, platform, username)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			skip("username %q already imported", username)
			continue
		}

		if err := s.deps.Accounts.Create(account); err != nil {
			skip("creating account: %v", err)
			continue
		}
		result.Imported++
	}

	return result, nil
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	account := s.getAccount(w, r)
	if account == nil {
		return
	}

	result, err := s.deps.Pool.HealthCheck(r.Context(), account.ID)
	if err != nil {
		s.sendErr(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, result)
}

// CoolingRequest is the request body for POST /sub-accounts/{id}/cooling
type CoolingRequest struct {
	DurationHours int    `json:"duration_hours"`
	Reason        string `json:"reason"`
}

func (b CoolingRequest) Validate() error {
	return v.ValidateStruct(&b,
		v.Field(&b.DurationHours, v.Required, v.Min(1), v.Max(24*30)),
	)
}

func (s *Server) handleCooling(w http.ResponseWriter, r *http.Request) {
	account := s.getAccount(w, r)
	if account == nil {
		return
	}

	var req CoolingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	if account.Status == models.AccountBanned {
		s.sendError(w, http.StatusConflict, "banned accounts cannot be cooled")
		return
	}

	until := time.Now().Add(time.Duration(req.DurationHours) * time.Hour)
	if err := s.deps.Pool.MarkCooling(account.ID, until); err != nil {
		s.sendErr(w, err)
		return
	}

	s.logger.Info("sub-account placed in cooling",
		"account_id", account.ID, "hours", req.DurationHours, "reason", req.Reason)

	updated, err := s.deps.Accounts.GetByID(account.ID)
	if err != nil {
		s.sendErr(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, updated)
}
