package service

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/openclaw/link-server-go/internal/errors"
	"github.com/openclaw/link-server-go/internal/model"
)

func TestPairingService_GenerateCode(t *testing.T) {
	ctx := context.Background()

	t.Run("returns code with humanized expiry", func(t *testing.T) {
		env := newTestEnv(t)

		generated, err := env.pairing.GenerateCode(ctx, "subject-1", DefaultGenerateCodeOptions())
		require.NoError(t, err)

		assert.Regexp(t, `^[A-Z2-9]{4}-[A-Z2-9]{4}$`, generated.Code)
		assert.Equal(t, env.clock.Now().Add(24*time.Hour), generated.ExpiresAt)
		assert.Equal(t, "1 day from now", generated.ExpiresIn)
		assert.Equal(t, 1, generated.MaxUses)
		assert.Empty(t, generated.Payload)

		pc, err := env.store.PairingCodes().FindByCode(ctx, generated.Code)
		require.NoError(t, err)
		assert.Equal(t, model.CodeStatusPending, pc.Status)
		assert.Nil(t, pc.UsedBy)
	})

	t.Run("qr share method carries a link payload", func(t *testing.T) {
		env := newTestEnv(t, func(s *Settings) { s.PairingLinkBase = "https://link.example.com/pair" })
		opts := DefaultGenerateCodeOptions()
		opts.ShareMethod = model.ShareMethodQR

		generated, err := env.pairing.GenerateCode(ctx, "subject-1", opts)
		require.NoError(t, err)

		require.True(t, strings.HasPrefix(generated.Payload, "https://link.example.com/pair?"))
		u, err := url.Parse(generated.Payload)
		require.NoError(t, err)
		assert.Equal(t, generated.Code, u.Query().Get("code"))
		assert.NotEmpty(t, u.Query().Get("exp"))
	})

	t.Run("rejects invalid options", func(t *testing.T) {
		env := newTestEnv(t)
		tests := []struct {
			name string
			edit func(*GenerateCodeOptions)
		}{
			{"zero expiration", func(o *GenerateCodeOptions) { o.ExpirationHours = 0 }},
			{"negative expiration", func(o *GenerateCodeOptions) { o.ExpirationHours = -1 }},
			{"expiration over a week", func(o *GenerateCodeOptions) { o.ExpirationHours = 169 }},
			{"zero max uses", func(o *GenerateCodeOptions) { o.MaxUses = 0 }},
			{"too many uses", func(o *GenerateCodeOptions) { o.MaxUses = 11 }},
			{"unknown share method", func(o *GenerateCodeOptions) { o.ShareMethod = "carrier-pigeon" }},
			{"unknown grant", func(o *GenerateCodeOptions) { o.Grant = []model.Action{"launchRockets"} }},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				opts := DefaultGenerateCodeOptions()
				tt.edit(&opts)
				_, err := env.pairing.GenerateCode(ctx, "subject-1", opts)
				assert.Equal(t, apperrors.ErrCodeValidation, apperrors.GetCode(err))
			})
		}
	})

	t.Run("accepts the one week boundary", func(t *testing.T) {
		env := newTestEnv(t)
		opts := DefaultGenerateCodeOptions()
		opts.ExpirationHours = 168
		_, err := env.pairing.GenerateCode(ctx, "subject-1", opts)
		assert.NoError(t, err)
	})

	t.Run("requires a caller", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.pairing.GenerateCode(ctx, "", DefaultGenerateCodeOptions())
		assert.Equal(t, apperrors.ErrCodeUnauthenticated, apperrors.GetCode(err))
	})

	t.Run("caps pending codes per subject", func(t *testing.T) {
		env := newTestEnv(t)
		for i := 0; i < 5; i++ {
			_, err := env.pairing.GenerateCode(ctx, "subject-1", DefaultGenerateCodeOptions())
			require.NoError(t, err)
		}

		_, err := env.pairing.GenerateCode(ctx, "subject-1", DefaultGenerateCodeOptions())
		assert.Equal(t, apperrors.ErrCodeConflict, apperrors.GetCode(err))

		_, err = env.pairing.GenerateCode(ctx, "subject-2", DefaultGenerateCodeOptions())
		assert.NoError(t, err)
	})

	t.Run("concurrent generation respects the cap", func(t *testing.T) {
		env := newTestEnv(t)
		const callers = 20
		errs := make([]error, callers)
		var wg sync.WaitGroup
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = env.pairing.GenerateCode(ctx, "subject-1", DefaultGenerateCodeOptions())
			}(i)
		}
		wg.Wait()

		successes, conflicts := 0, 0
		for _, err := range errs {
			switch {
			case err == nil:
				successes++
			case apperrors.Is(err, apperrors.ErrCodeConflict):
				conflicts++
			}
		}
		assert.Equal(t, 5, successes)
		assert.Equal(t, callers-5, conflicts)

		count, err := env.store.PairingCodes().CountPendingBySubjectID(ctx, "subject-1", env.clock.Now())
		require.NoError(t, err)
		assert.Equal(t, 5, count)
	})

	t.Run("expired codes do not count toward the cap", func(t *testing.T) {
		env := newTestEnv(t)
		opts := DefaultGenerateCodeOptions()
		opts.ExpirationHours = 1
		for i := 0; i < 5; i++ {
			_, err := env.pairing.GenerateCode(ctx, "subject-1", opts)
			require.NoError(t, err)
		}
		env.clock.Advance(time.Hour)

		_, err := env.pairing.GenerateCode(ctx, "subject-1", opts)
		assert.NoError(t, err)
	})

	t.Run("exhausted code space fails after bounded retries", func(t *testing.T) {
		env := newTestEnvWith(t, DefaultSettings(), NewCodeGeneratorWith("A", NewCodeGenerator().random), NoLimit{}, nil)

		first, err := env.pairing.GenerateCode(ctx, "subject-1", DefaultGenerateCodeOptions())
		require.NoError(t, err)
		assert.Equal(t, "AAAA-AAAA", first.Code)

		_, err = env.pairing.GenerateCode(ctx, "subject-2", DefaultGenerateCodeOptions())
		assert.Equal(t, apperrors.ErrCodeInternal, apperrors.GetCode(err))
	})

	t.Run("rate limits generation per subject", func(t *testing.T) {
		_, client := newTestRedis(t)
		env := newTestEnvWith(t, DefaultSettings(), NewCodeGenerator(), NewRateLimiter(client), nil)

		for i := 0; i < 10; i++ {
			generated, err := env.pairing.GenerateCode(ctx, "subject-1", DefaultGenerateCodeOptions())
			require.NoError(t, err, "generation %d", i+1)
			require.NoError(t, env.pairing.RevokeCode(ctx, generated.Code, "subject-1"))
		}

		_, err := env.pairing.GenerateCode(ctx, "subject-1", DefaultGenerateCodeOptions())
		assert.Equal(t, apperrors.ErrCodeRateLimited, apperrors.GetCode(err))
	})
}

func TestPairingService_ValidateCode(t *testing.T) {
	ctx := context.Background()

	t.Run("valid pending code", func(t *testing.T) {
		env := newTestEnv(t)
		generated, err := env.pairing.GenerateCode(ctx, "subject-1", DefaultGenerateCodeOptions())
		require.NoError(t, err)

		result, err := env.pairing.ValidateCode(ctx, strings.ToLower(generated.Code))
		require.NoError(t, err)
		assert.True(t, result.Valid)
		assert.Equal(t, "subject-1", result.SubjectID)
		assert.Equal(t, int64(24*3600), result.RemainingSeconds)
		assert.Equal(t, 1, result.UsesRemaining)
	})

	t.Run("malformed code", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.pairing.ValidateCode(ctx, "nope")
		assert.Equal(t, apperrors.ErrCodeValidation, apperrors.GetCode(err))
	})

	t.Run("unknown code", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.pairing.ValidateCode(ctx, "ABCD-EFGH")
		assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(err))
	})

	t.Run("short lived code expires without a sweep", func(t *testing.T) {
		env := newTestEnv(t)
		opts := DefaultGenerateCodeOptions()
		opts.ExpirationHours = 1.0 / 3600
		generated, err := env.pairing.GenerateCode(ctx, "subject-1", opts)
		require.NoError(t, err)

		env.clock.Advance(2 * time.Second)

		_, err = env.pairing.ValidateCode(ctx, generated.Code)
		require.Equal(t, apperrors.ErrCodeExpired, apperrors.GetCode(err))
		appErr, _ := apperrors.AsAppError(err)
		assert.Equal(t, map[string]any{"markExpired": true}, appErr.Details)

		pc, err := env.store.PairingCodes().FindByCode(ctx, generated.Code)
		require.NoError(t, err)
		assert.Equal(t, model.CodeStatusPending, pc.Status, "validation must not write")
	})

	t.Run("expiry boundary is inclusive", func(t *testing.T) {
		env := newTestEnv(t)
		opts := DefaultGenerateCodeOptions()
		opts.ExpirationHours = 1
		generated, err := env.pairing.GenerateCode(ctx, "subject-1", opts)
		require.NoError(t, err)

		env.clock.Advance(time.Hour)
		_, err = env.pairing.ValidateCode(ctx, generated.Code)
		assert.Equal(t, apperrors.ErrCodeExpired, apperrors.GetCode(err))
	})

	t.Run("used code", func(t *testing.T) {
		env := newTestEnv(t)
		generated, err := env.pairing.GenerateCode(ctx, "subject-1", DefaultGenerateCodeOptions())
		require.NoError(t, err)
		_, err = env.pairing.RedeemCode(ctx, generated.Code, "controller-1", RedeemOptions{})
		require.NoError(t, err)

		_, err = env.pairing.ValidateCode(ctx, generated.Code)
		assert.Equal(t, apperrors.ErrCodeAlreadyUsed, apperrors.GetCode(err))
	})

	t.Run("revoked code", func(t *testing.T) {
		env := newTestEnv(t)
		generated, err := env.pairing.GenerateCode(ctx, "subject-1", DefaultGenerateCodeOptions())
		require.NoError(t, err)
		require.NoError(t, env.pairing.RevokeCode(ctx, generated.Code, "subject-1"))

		_, err = env.pairing.ValidateCode(ctx, generated.Code)
		assert.Equal(t, apperrors.ErrCodeAlreadyUsed, apperrors.GetCode(err))
	})

	t.Run("used code past expiry reports expired", func(t *testing.T) {
		env := newTestEnv(t)
		generated, err := env.pairing.GenerateCode(ctx, "subject-1", DefaultGenerateCodeOptions())
		require.NoError(t, err)
		_, err = env.pairing.RedeemCode(ctx, generated.Code, "controller-1", RedeemOptions{})
		require.NoError(t, err)
		env.clock.Advance(48 * time.Hour)

		_, err = env.pairing.ValidateCode(ctx, generated.Code)
		require.Equal(t, apperrors.ErrCodeExpired, apperrors.GetCode(err))
		appErr, _ := apperrors.AsAppError(err)
		assert.Equal(t, map[string]any{"markExpired": false}, appErr.Details)

		pc, err := env.store.PairingCodes().FindByCode(ctx, generated.Code)
		require.NoError(t, err)
		assert.Equal(t, model.CodeStatusUsed, pc.Status)
	})

	t.Run("revoked code past expiry reports expired", func(t *testing.T) {
		env := newTestEnv(t)
		generated, err := env.pairing.GenerateCode(ctx, "subject-1", DefaultGenerateCodeOptions())
		require.NoError(t, err)
		require.NoError(t, env.pairing.RevokeCode(ctx, generated.Code, "subject-1"))
		env.clock.Advance(48 * time.Hour)

		_, err = env.pairing.ValidateCode(ctx, generated.Code)
		assert.Equal(t, apperrors.ErrCodeExpired, apperrors.GetCode(err))

		_, err = env.pairing.RedeemCode(ctx, generated.Code, "controller-1", RedeemOptions{})
		assert.Equal(t, apperrors.ErrCodeExpired, apperrors.GetCode(err))
		pc, err := env.store.PairingCodes().FindByCode(ctx, generated.Code)
		require.NoError(t, err)
		assert.Equal(t, model.CodeStatusRevoked, pc.Status)
	})
}

func TestPairingService_RedeemCode(t *testing.T) {
	ctx := context.Background()

	t.Run("generate validate redeem round trip", func(t *testing.T) {
		env := newTestEnv(t)
		generated, err := env.pairing.GenerateCode(ctx, "subject-1", DefaultGenerateCodeOptions())
		require.NoError(t, err)

		_, err = env.pairing.ValidateCode(ctx, generated.Code)
		require.NoError(t, err)

		rel, err := env.pairing.RedeemCode(ctx, generated.Code, "controller-1", RedeemOptions{})
		require.NoError(t, err)
		assert.Equal(t, "controller-1", rel.ControllerID)
		assert.Equal(t, "subject-1", rel.SubjectID)
		assert.Equal(t, model.RelationshipStatusActive, rel.Status)
		assert.Equal(t, generated.Code, rel.PairingCode)
		assert.Equal(t, "manual", rel.LinkMethod)
		assert.Equal(t, model.DefaultPermissions(), rel.Permissions)

		pc, err := env.store.PairingCodes().FindByCode(ctx, generated.Code)
		require.NoError(t, err)
		assert.Equal(t, model.CodeStatusUsed, pc.Status)
		require.NotNil(t, pc.UsedBy)
		assert.Equal(t, "controller-1", *pc.UsedBy)
	})

	t.Run("concurrent double redemption has exactly one winner", func(t *testing.T) {
		env := newTestEnv(t, func(s *Settings) { s.SingleActiveController = false })
		generated, err := env.pairing.GenerateCode(ctx, "subject-1", DefaultGenerateCodeOptions())
		require.NoError(t, err)

		controllers := []string{"controller-a", "controller-b"}
		errs := make([]error, len(controllers))
		var wg sync.WaitGroup
		for i, controller := range controllers {
			wg.Add(1)
			go func(i int, controller string) {
				defer wg.Done()
				_, errs[i] = env.pairing.RedeemCode(ctx, generated.Code, controller, RedeemOptions{})
			}(i, controller)
		}
		wg.Wait()

		successes, alreadyUsed := 0, 0
		for _, err := range errs {
			switch {
			case err == nil:
				successes++
			case apperrors.Is(err, apperrors.ErrCodeAlreadyUsed):
				alreadyUsed++
			}
		}
		assert.Equal(t, 1, successes)
		assert.Equal(t, 1, alreadyUsed)

		rels, err := env.store.Relationships().FindActiveBySubjectID(ctx, "subject-1")
		require.NoError(t, err)
		assert.Len(t, rels, 1)
	})

	t.Run("expired code is marked on redemption", func(t *testing.T) {
		env := newTestEnv(t)
		opts := DefaultGenerateCodeOptions()
		opts.ExpirationHours = 1.0 / 3600
		generated, err := env.pairing.GenerateCode(ctx, "subject-1", opts)
		require.NoError(t, err)
		env.clock.Advance(2 * time.Second)

		_, err = env.pairing.RedeemCode(ctx, generated.Code, "controller-1", RedeemOptions{})
		assert.Equal(t, apperrors.ErrCodeExpired, apperrors.GetCode(err))

		pc, err := env.store.PairingCodes().FindByCode(ctx, generated.Code)
		require.NoError(t, err)
		assert.Equal(t, model.CodeStatusExpired, pc.Status)
	})

	t.Run("cannot redeem own code", func(t *testing.T) {
		env := newTestEnv(t)
		generated, err := env.pairing.GenerateCode(ctx, "subject-1", DefaultGenerateCodeOptions())
		require.NoError(t, err)

		_, err = env.pairing.RedeemCode(ctx, generated.Code, "subject-1", RedeemOptions{})
		assert.Equal(t, apperrors.ErrCodeValidation, apperrors.GetCode(err))
	})

	t.Run("failed relationship creation leaves the code pending", func(t *testing.T) {
		env := newTestEnv(t)
		env.pair(t, "subject-1", "controller-1")

		generated, err := env.pairing.GenerateCode(ctx, "subject-1", DefaultGenerateCodeOptions())
		require.NoError(t, err)

		_, err = env.pairing.RedeemCode(ctx, generated.Code, "controller-2", RedeemOptions{})
		assert.Equal(t, apperrors.ErrCodeConflict, apperrors.GetCode(err))

		pc, err := env.store.PairingCodes().FindByCode(ctx, generated.Code)
		require.NoError(t, err)
		assert.Equal(t, model.CodeStatusPending, pc.Status)
		assert.Zero(t, pc.UseCount)
	})

	t.Run("multi use code links several controllers", func(t *testing.T) {
		env := newTestEnv(t, func(s *Settings) { s.SingleActiveController = false })
		opts := DefaultGenerateCodeOptions()
		opts.MaxUses = 2
		generated, err := env.pairing.GenerateCode(ctx, "subject-1", opts)
		require.NoError(t, err)

		_, err = env.pairing.RedeemCode(ctx, generated.Code, "controller-a", RedeemOptions{})
		require.NoError(t, err)

		result, err := env.pairing.ValidateCode(ctx, generated.Code)
		require.NoError(t, err)
		assert.Equal(t, 1, result.UsesRemaining)

		_, err = env.pairing.RedeemCode(ctx, generated.Code, "controller-b", RedeemOptions{})
		require.NoError(t, err)

		_, err = env.pairing.RedeemCode(ctx, generated.Code, "controller-c", RedeemOptions{})
		assert.Equal(t, apperrors.ErrCodeAlreadyUsed, apperrors.GetCode(err))
	})

	t.Run("grant widens and controller narrows", func(t *testing.T) {
		env := newTestEnv(t)
		opts := DefaultGenerateCodeOptions()
		opts.Grant = []model.Action{model.ActionExportData}
		generated, err := env.pairing.GenerateCode(ctx, "subject-1", opts)
		require.NoError(t, err)

		rel, err := env.pairing.RedeemCode(ctx, generated.Code, "controller-1", RedeemOptions{
			Permissions: &model.PermissionsPatch{
				ControlState:      boolPtr(false),
				EmergencyOverride: boolPtr(true),
			},
		})
		require.NoError(t, err)
		assert.True(t, rel.Permissions.ExportData)
		assert.False(t, rel.Permissions.ControlState)
		assert.False(t, rel.Permissions.EmergencyOverride, "controller cannot widen")
		assert.True(t, rel.Permissions.ViewData)
	})

	t.Run("rejects unknown link method", func(t *testing.T) {
		env := newTestEnv(t)
		generated, err := env.pairing.GenerateCode(ctx, "subject-1", DefaultGenerateCodeOptions())
		require.NoError(t, err)

		_, err = env.pairing.RedeemCode(ctx, generated.Code, "controller-1", RedeemOptions{LinkMethod: "fax"})
		assert.Equal(t, apperrors.ErrCodeValidation, apperrors.GetCode(err))
	})

	t.Run("rate limits redemption attempts", func(t *testing.T) {
		env := newTestEnvWith(t, DefaultSettings(), NewCodeGenerator(), NewLocalRateLimiter(nil), nil)
		for i := 0; i < 20; i++ {
			_, err := env.pairing.RedeemCode(ctx, "ZZZZ-ZZZZ", "controller-1", RedeemOptions{})
			require.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(err))
		}
		_, err := env.pairing.RedeemCode(ctx, "ZZZZ-ZZZZ", "controller-1", RedeemOptions{})
		assert.Equal(t, apperrors.ErrCodeRateLimited, apperrors.GetCode(err))
	})
}

func TestPairingService_RevokeAndList(t *testing.T) {
	ctx := context.Background()

	t.Run("only the creator may revoke", func(t *testing.T) {
		env := newTestEnv(t)
		generated, err := env.pairing.GenerateCode(ctx, "subject-1", DefaultGenerateCodeOptions())
		require.NoError(t, err)

		err = env.pairing.RevokeCode(ctx, generated.Code, "intruder")
		assert.Equal(t, apperrors.ErrCodePermissionDenied, apperrors.GetCode(err))

		require.NoError(t, env.pairing.RevokeCode(ctx, generated.Code, "subject-1"))

		err = env.pairing.RevokeCode(ctx, generated.Code, "subject-1")
		assert.Equal(t, apperrors.ErrCodeAlreadyUsed, apperrors.GetCode(err))
	})

	t.Run("list shows only pending unexpired codes", func(t *testing.T) {
		env := newTestEnv(t)
		keep, err := env.pairing.GenerateCode(ctx, "subject-1", DefaultGenerateCodeOptions())
		require.NoError(t, err)
		revoked, err := env.pairing.GenerateCode(ctx, "subject-1", DefaultGenerateCodeOptions())
		require.NoError(t, err)
		require.NoError(t, env.pairing.RevokeCode(ctx, revoked.Code, "subject-1"))

		codes, err := env.pairing.ListActiveCodes(ctx, "subject-1")
		require.NoError(t, err)
		require.Len(t, codes, 1)
		assert.Equal(t, keep.Code, codes[0].Code)

		codes, err = env.pairing.ListActiveCodes(ctx, "subject-2")
		require.NoError(t, err)
		assert.Empty(t, codes)
	})

	t.Run("expire stale marks without deleting", func(t *testing.T) {
		env := newTestEnv(t)
		generated, err := env.pairing.GenerateCode(ctx, "subject-1", DefaultGenerateCodeOptions())
		require.NoError(t, err)
		env.clock.Advance(25 * time.Hour)

		n, err := env.pairing.ExpireStale(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		pc, err := env.store.PairingCodes().FindByCode(ctx, generated.Code)
		require.NoError(t, err)
		assert.Equal(t, model.CodeStatusExpired, pc.Status)
	})
}
