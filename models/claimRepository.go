package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lexdesk/claims_backend/config"
	"github.com/lexdesk/claims_backend/utils"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

var ErrDuplicateTrackingCode = errors.New("duplicate tracking code")

// A tracking lookup that read the row before a concurrent Save can still
// repopulate the old value after invalidation; the TTL bounds how long.
const claimCodeCacheTTL = time.Minute

// ClaimRepository persists claims through gorm. A nil cache disables the
// tracking-code read-through cache.
type ClaimRepository struct {
	db    *gorm.DB
	cache *redis.Client
}

func NewClaimRepository(db *gorm.DB, cache *redis.Client) *ClaimRepository {
	return &ClaimRepository{db: db, cache: cache}
}

func claimCodeKey(code string) string {
	return "Claim:Code:" + code
}

func (r *ClaimRepository) Create(ctx context.Context, claim *Claim) error {
	if err := r.db.WithContext(ctx).Create(claim).Error; err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicateTrackingCode
		}
		return err
	}
	return nil
}

// Save overwrites the whole row. The cached tracking projection is dropped
// both before and after the write.
func (r *ClaimRepository) Save(ctx context.Context, claim *Claim) error {
	r.invalidate(ctx, claim.TrackingCode)
	if err := r.db.WithContext(ctx).Save(claim).Error; err != nil {
		return err
	}
	r.invalidate(ctx, claim.TrackingCode)
	return nil
}

func (r *ClaimRepository) invalidate(ctx context.Context, code string) {
	if err := config.RemoveRedisKey(ctx, r.cache, claimCodeKey(code)); err != nil {
		config.LogError(config.GetLogger(), "ClaimRepository", "Save", "invalidate cache", code, err)
	}
}

func (r *ClaimRepository) FindByTrackingCode(ctx context.Context, code string) (*Claim, error) {
	var claim Claim
	if hit, err := config.GetRedisObject(ctx, r.cache, claimCodeKey(code), &claim); err == nil && hit {
		return &claim, nil
	}

	err := r.db.WithContext(ctx).Where("tracking_code = ?", code).First(&claim).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	if err := config.SetRedisObject(ctx, r.cache, claimCodeKey(code), &claim, claimCodeCacheTTL); err != nil {
		config.LogError(config.GetLogger(), "ClaimRepository", "FindByTrackingCode", "store cache", code, err)
	}
	return &claim, nil
}

func (r *ClaimRepository) FindByID(ctx context.Context, id string) (*Claim, error) {
	var claim Claim
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&claim).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &claim, nil
}

// FindAll returns claims newest first, optionally filtered by exact status.
func (r *ClaimRepository) FindAll(ctx context.Context, status *ClaimStatus) ([]*Claim, error) {
	var claims []*Claim
	dbCtx := r.db.WithContext(ctx)
	if status != nil {
		dbCtx = dbCtx.Where("status = ?", *status)
	}
	if err := dbCtx.Order("created_at DESC").Find(&claims).Error; err != nil {
		return nil, err
	}
	return claims, nil
}

// ReferencedObjects returns the set of every blob reference held by any claim.
func (r *ClaimRepository) ReferencedObjects(ctx context.Context) (map[string]struct{}, error) {
	refs := make(map[string]struct{})
	var batch []*Claim
	err := r.db.WithContext(ctx).
		Select("id", "identity_document_ref", "receipt_ref", "form1_ref", "form2_ref",
			"medical_leave_ref", "termination_letter_ref", "waiver_of_representation_ref").
		FindInBatches(&batch, 500, func(tx *gorm.DB, _ int) error {
			for _, c := range batch {
				for _, ref := range c.FileRefs() {
					refs[ref] = struct{}{}
				}
			}
			return nil
		}).Error
	if err != nil {
		return nil, err
	}
	return refs, nil
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == 1062 {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "duplicate")
}
