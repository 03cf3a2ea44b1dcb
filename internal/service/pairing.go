package service

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/link-server-go/internal/audit"
	"github.com/openclaw/link-server-go/internal/config"
	apperrors "github.com/openclaw/link-server-go/internal/errors"
	"github.com/openclaw/link-server-go/internal/model"
	"github.com/openclaw/link-server-go/internal/repository"
	"github.com/openclaw/link-server-go/internal/util"
)

type GenerateCodeOptions struct {
	ExpirationHours float64           `json:"expirationHours"`
	MaxUses         int               `json:"maxUses"`
	ShareMethod     model.ShareMethod `json:"shareMethod"`
	Grant           []model.Action    `json:"grant,omitempty"`
}

func DefaultGenerateCodeOptions() GenerateCodeOptions {
	return GenerateCodeOptions{
		ExpirationHours: config.DefaultCodeExpiryHours,
		MaxUses:         1,
		ShareMethod:     model.ShareMethodManual,
	}
}

type GeneratedCode struct {
	Code        string            `json:"code"`
	ExpiresAt   time.Time         `json:"expiresAt"`
	ExpiresIn   string            `json:"expiresIn"`
	MaxUses     int               `json:"maxUses"`
	ShareMethod model.ShareMethod `json:"shareMethod"`
	Payload     string            `json:"payload,omitempty"`
}

type CodeValidation struct {
	Valid            bool      `json:"valid"`
	Code             string    `json:"code"`
	SubjectID        string    `json:"subjectId"`
	ExpiresAt        time.Time `json:"expiresAt"`
	RemainingSeconds int64     `json:"remainingSeconds"`
	UsesRemaining    int       `json:"usesRemaining"`
}

type RedeemOptions struct {
	LinkMethod  string                  `json:"linkMethod,omitempty"`
	Permissions *model.PermissionsPatch `json:"permissions,omitempty"`
}

type PairingService struct {
	runner        storeRunner
	relationships *RelationshipService
	generator     *CodeGenerator
	clock         Clock
	limiter       Limiter
	linkBase      string
}

func NewPairingService(
	store repository.Store,
	relationships *RelationshipService,
	generator *CodeGenerator,
	clock Clock,
	limiter Limiter,
	settings Settings,
) *PairingService {
	if limiter == nil {
		limiter = NoLimit{}
	}
	return &PairingService{
		runner:        newStoreRunner(store, settings.StoreTimeout),
		relationships: relationships,
		generator:     generator,
		clock:         clock,
		limiter:       limiter,
		linkBase:      settings.PairingLinkBase,
	}
}

func (s *PairingService) GenerateCode(ctx context.Context, subjectID string, opts GenerateCodeOptions) (*GeneratedCode, error) {
	if subjectID == "" {
		return nil, apperrors.Unauthenticated()
	}
	if opts.ExpirationHours <= 0 || opts.ExpirationHours > config.MaxCodeExpirationHours {
		return nil, apperrors.InvalidInput("expirationHours", "must be greater than 0 and at most 168")
	}
	if opts.MaxUses < 1 || opts.MaxUses > config.MaxCodeUses {
		return nil, apperrors.InvalidInput("maxUses", "must be between 1 and 10")
	}
	if opts.ShareMethod == "" {
		opts.ShareMethod = model.ShareMethodManual
	}
	if !opts.ShareMethod.Valid() {
		return nil, apperrors.InvalidInput("shareMethod", "must be one of manual, qr, link")
	}

	var grant *model.Permissions
	if len(opts.Grant) > 0 {
		g, ok := model.GrantFromActions(opts.Grant)
		if !ok {
			return nil, apperrors.InvalidInput("grant", "unknown permission name")
		}
		grant = &g
	}

	if allowed, resetAt := s.limiter.CheckLimit(ctx, "pairing:generate:"+subjectID, config.CodeGenerationLimit, config.CodeGenerationWindow); !allowed {
		audit.Log(ctx, audit.Event{Type: audit.EventRateLimitExceed, ActorID: subjectID, Details: map[string]interface{}{"operation": "generate_code"}})
		return nil, apperrors.RateLimited().WithDetails(map[string]any{"resetAt": resetAt})
	}

	now := s.clock.Now()
	expiresAt := now.Add(time.Duration(opts.ExpirationHours * float64(time.Hour)))

	var pc *model.PairingCode
	for attempt := 0; attempt < config.CodeGenerationAttempts && pc == nil; attempt++ {
		code, err := s.generator.Generate()
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrCodeInternal, "Failed to generate pairing code", err)
		}

		err = s.runner.tx(ctx, "create pairing code", func(ctx context.Context, tx repository.Store) error {
			codes := tx.PairingCodes()
			if err := codes.LockSubject(ctx, subjectID); err != nil {
				return err
			}
			pending, err := codes.CountPendingBySubjectID(ctx, subjectID, now)
			if err != nil {
				return err
			}
			if pending >= config.MaxPendingCodes {
				return apperrors.Conflict("Maximum number of pending pairing codes reached").
					WithDetails(map[string]any{"limit": config.MaxPendingCodes})
			}

			pc, err = codes.Create(ctx, model.CreatePairingCodeParams{
				Code:        code,
				SubjectID:   subjectID,
				MaxUses:     opts.MaxUses,
				ShareMethod: opts.ShareMethod,
				Grant:       grant,
				ExpiresAt:   expiresAt,
				CreatedAt:   now,
			})
			if errors.Is(err, repository.ErrDuplicate) {
				log.Debug().Str("code", util.MaskCode(code)).Int("attempt", attempt+1).Msg("pairing code collision, retrying")
				pc = nil
				return nil
			}
			return err
		})
		if err != nil {
			return nil, err
		}
	}
	if pc == nil {
		return nil, apperrors.Internal("Could not allocate a unique pairing code")
	}

	log.Info().
		Str("code", util.MaskCode(pc.Code)).
		Str("subjectId", subjectID).
		Int("maxUses", pc.MaxUses).
		Time("expiresAt", pc.ExpiresAt).
		Msg("pairing code created")
	audit.Log(ctx, audit.Event{
		Type:    audit.EventCodeGenerate,
		ActorID: subjectID,
		Details: map[string]interface{}{"code": util.MaskCode(pc.Code), "share_method": string(pc.ShareMethod)},
	})

	return &GeneratedCode{
		Code:        pc.Code,
		ExpiresAt:   pc.ExpiresAt,
		ExpiresIn:   humanize.RelTime(pc.ExpiresAt, now, "ago", "from now"),
		MaxUses:     pc.MaxUses,
		ShareMethod: pc.ShareMethod,
		Payload:     s.sharePayload(pc),
	}, nil
}

func (s *PairingService) sharePayload(pc *model.PairingCode) string {
	if pc.ShareMethod == model.ShareMethodManual {
		return ""
	}
	q := url.Values{}
	q.Set("code", pc.Code)
	q.Set("exp", strconv.FormatInt(pc.ExpiresAt.Unix(), 10))
	return s.linkBase + "?" + q.Encode()
}

// ValidateCode reports whether code could be redeemed right now. It never
// writes; an expired pending code is reported with details.markExpired set.
func (s *PairingService) ValidateCode(ctx context.Context, code string) (*CodeValidation, error) {
	pc, err := s.checkCode(ctx, code)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	return &CodeValidation{
		Valid:            true,
		Code:             pc.Code,
		SubjectID:        pc.SubjectID,
		ExpiresAt:        pc.ExpiresAt,
		RemainingSeconds: int64(pc.ExpiresAt.Sub(now).Seconds()),
		UsesRemaining:    pc.MaxUses - pc.UseCount,
	}, nil
}

func (s *PairingService) checkCode(ctx context.Context, input string) (*model.PairingCode, error) {
	code, ok := s.generator.Normalize(input)
	if !ok {
		return nil, apperrors.InvalidInput("code", "must be 8 characters formatted XXXX-XXXX")
	}

	var pc *model.PairingCode
	err := s.runner.read(ctx, "find pairing code", func(ctx context.Context, st repository.Store) error {
		var err error
		pc, err = st.PairingCodes().FindByCode(ctx, code)
		return err
	})
	if err != nil {
		return nil, err
	}
	if pc == nil {
		return nil, apperrors.NotFound("Pairing code")
	}

	now := s.clock.Now()
	if pc.Status == model.CodeStatusExpired || pc.IsExpired(now) {
		return pc, apperrors.Expired("Pairing code").WithDetails(map[string]any{
			"markExpired": pc.Status == model.CodeStatusPending,
		})
	}
	if pc.Status == model.CodeStatusRevoked {
		return pc, apperrors.New(apperrors.ErrCodeAlreadyUsed, "Pairing code has been revoked")
	}
	if pc.Exhausted() {
		return pc, apperrors.AlreadyUsed()
	}
	return pc, nil
}

// RedeemCode consumes code on behalf of controllerID and establishes the
// relationship. Consumption and creation commit together.
func (s *PairingService) RedeemCode(ctx context.Context, code, controllerID string, opts RedeemOptions) (*model.Relationship, error) {
	if controllerID == "" {
		return nil, apperrors.Unauthenticated()
	}

	if allowed, resetAt := s.limiter.CheckLimit(ctx, "pairing:redeem:"+controllerID, config.RedemptionLimit, config.RedemptionWindow); !allowed {
		audit.Log(ctx, audit.Event{Type: audit.EventRateLimitExceed, ActorID: controllerID, Details: map[string]interface{}{"operation": "redeem_code"}})
		return nil, apperrors.RateLimited().WithDetails(map[string]any{"resetAt": resetAt})
	}

	pc, err := s.checkCode(ctx, code)
	if err != nil {
		if pc != nil && apperrors.Is(err, apperrors.ErrCodeExpired) && pc.Status == model.CodeStatusPending {
			s.markExpired(ctx, pc.Code)
		}
		s.logRedeemFailure(ctx, controllerID, pc, err)
		return nil, err
	}
	if pc.SubjectID == controllerID {
		return nil, apperrors.ValidationFailed("Cannot redeem your own pairing code")
	}

	linkMethod := opts.LinkMethod
	if linkMethod == "" {
		linkMethod = string(pc.ShareMethod)
	}
	if !model.ShareMethod(linkMethod).Valid() {
		return nil, apperrors.InvalidInput("linkMethod", "must be one of manual, qr, link")
	}

	now := s.clock.Now()
	var rel *model.Relationship
	err = s.runner.tx(ctx, "redeem pairing code", func(ctx context.Context, tx repository.Store) error {
		consumed, err := tx.PairingCodes().Consume(ctx, pc.Code, controllerID, now)
		if errors.Is(err, repository.ErrConditionFailed) {
			return apperrors.AlreadyUsed()
		}
		if err != nil {
			return err
		}

		rel, err = s.relationships.create(ctx, tx, createRelationshipParams{
			ControllerID: controllerID,
			SubjectID:    consumed.SubjectID,
			LinkMethod:   linkMethod,
			PairingCode:  consumed.Code,
			Grant:        consumed.Grant,
			Narrowing:    opts.Permissions,
			Now:          now,
		})
		return err
	})
	if err != nil {
		s.logRedeemFailure(ctx, controllerID, pc, err)
		return nil, err
	}

	log.Info().
		Str("code", util.MaskCode(pc.Code)).
		Str("relationshipId", rel.ID).
		Str("controllerId", controllerID).
		Str("subjectId", rel.SubjectID).
		Msg("pairing successful")
	audit.Log(ctx, audit.Event{
		Type:           audit.EventCodeRedeem,
		ActorID:        controllerID,
		RelationshipID: rel.ID,
		Details:        map[string]interface{}{"code": util.MaskCode(pc.Code), "subject_id": rel.SubjectID},
	})

	return rel, nil
}

func (s *PairingService) markExpired(ctx context.Context, code string) {
	err := s.runner.write(ctx, "mark pairing code expired", func(ctx context.Context, st repository.Store) error {
		return st.PairingCodes().MarkExpired(ctx, code, s.clock.Now())
	})
	if err != nil {
		log.Warn().Err(err).Str("code", util.MaskCode(code)).Msg("failed to mark pairing code expired")
	}
}

func (s *PairingService) logRedeemFailure(ctx context.Context, controllerID string, pc *model.PairingCode, err error) {
	details := map[string]interface{}{"error_code": string(apperrors.GetCode(err))}
	if pc != nil {
		details["code"] = util.MaskCode(pc.Code)
	}
	audit.Log(ctx, audit.Event{Type: audit.EventCodeRedeemFailure, ActorID: controllerID, Details: details})
}

// RevokeCode withdraws a pending code. Only the subject that generated it
// may revoke it.
func (s *PairingService) RevokeCode(ctx context.Context, code, subjectID string) error {
	if subjectID == "" {
		return apperrors.Unauthenticated()
	}
	normalized, ok := s.generator.Normalize(code)
	if !ok {
		return apperrors.InvalidInput("code", "must be 8 characters formatted XXXX-XXXX")
	}

	var pc *model.PairingCode
	err := s.runner.read(ctx, "find pairing code", func(ctx context.Context, st repository.Store) error {
		var err error
		pc, err = st.PairingCodes().FindByCode(ctx, normalized)
		return err
	})
	if err != nil {
		return err
	}
	if pc == nil {
		return apperrors.NotFound("Pairing code")
	}
	if pc.SubjectID != subjectID {
		return apperrors.PermissionDenied("Only the code's creator may revoke it")
	}

	err = s.runner.write(ctx, "revoke pairing code", func(ctx context.Context, st repository.Store) error {
		err := st.PairingCodes().Revoke(ctx, normalized, subjectID, s.clock.Now())
		if errors.Is(err, repository.ErrConditionFailed) {
			return apperrors.New(apperrors.ErrCodeAlreadyUsed, "Pairing code is no longer pending")
		}
		return err
	})
	if err != nil {
		return err
	}

	audit.Log(ctx, audit.Event{
		Type:    audit.EventCodeRevoke,
		ActorID: subjectID,
		Details: map[string]interface{}{"code": util.MaskCode(normalized)},
	})
	return nil
}

func (s *PairingService) ListActiveCodes(ctx context.Context, subjectID string) ([]model.PairingCode, error) {
	if subjectID == "" {
		return nil, apperrors.Unauthenticated()
	}
	var codes []model.PairingCode
	err := s.runner.read(ctx, "list pending codes", func(ctx context.Context, st repository.Store) error {
		var err error
		codes, err = st.PairingCodes().FindPendingBySubjectID(ctx, subjectID, s.clock.Now())
		return err
	})
	if codes == nil {
		codes = []model.PairingCode{}
	}
	return codes, err
}

// ExpireStale marks every pending code past its deadline as expired.
func (s *PairingService) ExpireStale(ctx context.Context) (int64, error) {
	var n int64
	err := s.runner.write(ctx, "expire stale codes", func(ctx context.Context, st repository.Store) error {
		var err error
		n, err = st.PairingCodes().ExpireStale(ctx, s.clock.Now())
		return err
	})
	return n, err
}
