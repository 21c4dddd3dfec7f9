package postgres

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"vpn-subscription-shop/internal/domain"
	"vpn-subscription-shop/internal/domain/model"
	"vpn-subscription-shop/internal/domain/ports/repository"
)

var _ repository.SubscriptionRepository = (*subscriptionRepo)(nil)

type subscriptionRepo struct{ pool *pgxpool.Pool }

func NewSubscriptionRepo(pool *pgxpool.Pool) *subscriptionRepo {
	return &subscriptionRepo{pool: pool}
}

const subscriptionColumns = `
id, username, mobile, email, plan_id, data_limit_gb, duration_days, price_toman,
protocol, notes, status, admin_decision, admin_decision_token, admin_decided_at,
zarinpal_authority, zarinpal_ref_id, receipt_image_url, provider_payment_id,
subscription_url, panel_user_created, expire_at, created_at, updated_at`

func (r *subscriptionRepo) Save(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	const q = `
INSERT INTO subscriptions (` + subscriptionColumns + `
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23
) ON CONFLICT (id) DO UPDATE SET
  username=$2, mobile=$3, email=$4, plan_id=$5, data_limit_gb=$6, duration_days=$7,
  price_toman=$8, protocol=$9, notes=$10, status=$11, admin_decision=$12,
  admin_decision_token=$13, admin_decided_at=$14, zarinpal_authority=$15,
  zarinpal_ref_id=$16, receipt_image_url=$17, provider_payment_id=$18,
  subscription_url=$19, panel_user_created=$20, expire_at=$21, updated_at=NOW();`

	_, err := execSQL(ctx, r.pool, tx, q,
		s.ID, s.Username, s.Mobile, s.Email, s.PlanID, s.DataLimitGB, s.DurationDays, s.PriceToman,
		s.Protocol, s.Notes, s.Status, s.AdminDecision, s.AdminDecisionToken, s.AdminDecidedAt,
		s.ZarinpalAuthority, s.ZarinpalRefID, s.ReceiptImageURL, s.ProviderPaymentID,
		s.SubscriptionURL, s.PanelUserCreated, s.ExpireAt, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) || errors.Is(err, domain.ErrInvalidExecContext) {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func scanSubscription(row pgx.Row) (*model.Subscription, error) {
	s := &model.Subscription{}
	if err := row.Scan(
		&s.ID, &s.Username, &s.Mobile, &s.Email, &s.PlanID, &s.DataLimitGB, &s.DurationDays, &s.PriceToman,
		&s.Protocol, &s.Notes, &s.Status, &s.AdminDecision, &s.AdminDecisionToken, &s.AdminDecidedAt,
		&s.ZarinpalAuthority, &s.ZarinpalRefID, &s.ReceiptImageURL, &s.ProviderPaymentID,
		&s.SubscriptionURL, &s.PanelUserCreated, &s.ExpireAt, &s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return s, nil
}

func (r *subscriptionRepo) findBy(ctx context.Context, tx repository.Tx, where string, arg any) (*model.Subscription, error) {
	q := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE ` + where + ` LIMIT 1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	q += ";"
	row, err := pickRow(ctx, r.pool, tx, q, arg)
	if err != nil {
		return nil, err
	}
	return scanSubscription(row)
}

func (r *subscriptionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Subscription, error) {
	return r.findBy(ctx, tx, "id=$1", id)
}

func (r *subscriptionRepo) FindByZarinpalAuthority(ctx context.Context, tx repository.Tx, authority string) (*model.Subscription, error) {
	return r.findBy(ctx, tx, "zarinpal_authority=$1", authority)
}

func (r *subscriptionRepo) FindByProviderPaymentID(ctx context.Context, tx repository.Tx, providerPaymentID string) (*model.Subscription, error) {
	return r.findBy(ctx, tx, "provider_payment_id=$1", providerPaymentID)
}

// ClaimAdminDecision consumes the one-time token with a single guarded
// UPDATE; the affected-row count decides between not-found and already-decided.
func (r *subscriptionRepo) ClaimAdminDecision(ctx context.Context, tx repository.Tx, id, token string, decision model.AdminDecision, decidedAt time.Time) error {
	const q = `
UPDATE subscriptions
   SET admin_decision=$3, admin_decided_at=$4, updated_at=NOW()
 WHERE id=$1 AND admin_decision_token=$2 AND admin_decision='pending';`
	tag, err := execSQL(ctx, r.pool, tx, q, id, token, decision, decidedAt)
	if err != nil {
		return domain.ErrOperationFailed
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a bad id/token from a consumed token.
		row, pErr := pickRow(ctx, r.pool, tx, `SELECT admin_decision FROM subscriptions WHERE id=$1 AND admin_decision_token=$2;`, id, token)
		if pErr != nil {
			return domain.ErrOperationFailed
		}
		var current *model.AdminDecision
		if sErr := row.Scan(&current); sErr != nil {
			return domain.ErrNotFound
		}
		return domain.ErrTokenConsumed
	}
	return nil
}

// MarkPaymentConfirmed moves an unconfirmed row to paid exactly once; a
// replayed provider callback hits zero affected rows and reports ErrConflict.
// failed is in the guard so a late genuine verification re-opens the row.
func (r *subscriptionRepo) MarkPaymentConfirmed(ctx context.Context, tx repository.Tx, id, provider, refID string) error {
	const q = `
UPDATE subscriptions
   SET status='paid',
       zarinpal_ref_id = CASE WHEN $2='zarinpal' THEN $3 ELSE zarinpal_ref_id END,
       provider_payment_id = CASE WHEN $2<>'zarinpal' THEN $3 ELSE provider_payment_id END,
       updated_at=NOW()
 WHERE id=$1 AND status IN ('pending','pending_manual_verification','failed');`
	tag, err := execSQL(ctx, r.pool, tx, q, id, provider, refID)
	if err != nil {
		return domain.ErrOperationFailed
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConflict
	}
	return nil
}

// MarkProvisioned writes the subscription URL, expiry and active status in
// one statement so active is never observable without a URL.
func (r *subscriptionRepo) MarkProvisioned(ctx context.Context, tx repository.Tx, id, url string, expireAt time.Time) error {
	if url == "" {
		return domain.ErrInvalidArgument
	}
	const q = `
UPDATE subscriptions
   SET status='active', subscription_url=$2, panel_user_created=TRUE, expire_at=$3, updated_at=NOW()
 WHERE id=$1 AND status IN ('pending','pending_manual_verification','paid','pending_activation');`
	tag, err := execSQL(ctx, r.pool, tx, q, id, url, expireAt)
	if err != nil {
		return domain.ErrOperationFailed
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *subscriptionRepo) MarkProvisionFailed(ctx context.Context, tx repository.Tx, id, note string) error {
	const q = `
UPDATE subscriptions
   SET status='pending_activation',
       notes = COALESCE(notes,'') || $2,
       updated_at=NOW()
 WHERE id=$1 AND status IN ('pending','pending_manual_verification','paid','failed');`
	tag, err := execSQL(ctx, r.pool, tx, q, id, "\n"+note)
	if err != nil {
		return domain.ErrOperationFailed
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *subscriptionRepo) UpdateStatus(ctx context.Context, tx repository.Tx, id string, status model.SubscriptionStatus) error {
	const q = `UPDATE subscriptions SET status=$2, updated_at=NOW() WHERE id=$1;`
	_, err := execSQL(ctx, r.pool, tx, q, id, status)
	if err != nil {
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *subscriptionRepo) UpdateStatusFrom(ctx context.Context, tx repository.Tx, id string, from, to model.SubscriptionStatus) error {
	const q = `UPDATE subscriptions SET status=$3, updated_at=NOW() WHERE id=$1 AND status=$2;`
	tag, err := execSQL(ctx, r.pool, tx, q, id, from, to)
	if err != nil {
		return domain.ErrOperationFailed
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *subscriptionRepo) SetZarinpalAuthority(ctx context.Context, tx repository.Tx, id, authority string) error {
	const q = `UPDATE subscriptions SET zarinpal_authority=$2, updated_at=NOW() WHERE id=$1;`
	_, err := execSQL(ctx, r.pool, tx, q, id, authority)
	if err != nil {
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *subscriptionRepo) SetProviderPaymentID(ctx context.Context, tx repository.Tx, id, providerPaymentID string) error {
	const q = `UPDATE subscriptions SET provider_payment_id=$2, updated_at=NOW() WHERE id=$1;`
	_, err := execSQL(ctx, r.pool, tx, q, id, providerPaymentID)
	if err != nil {
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *subscriptionRepo) list(ctx context.Context, tx repository.Tx, where string, limit int, args ...any) ([]*model.Subscription, error) {
	q := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE ` + where + ` ORDER BY created_at ASC LIMIT ` + limitClause(limit) + `;`
	rows, err := pickRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *subscriptionRepo) ListByStatus(ctx context.Context, tx repository.Tx, status model.SubscriptionStatus, limit int) ([]*model.Subscription, error) {
	return r.list(ctx, tx, "status=$1", limit, status)
}

func (r *subscriptionRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, cutoff time.Time, limit int) ([]*model.Subscription, error) {
	return r.list(ctx, tx, "status='pending' AND created_at < $1 AND (zarinpal_authority IS NOT NULL OR provider_payment_id IS NOT NULL)", limit, cutoff)
}

func (r *subscriptionRepo) ListActiveExpiredBefore(ctx context.Context, tx repository.Tx, cutoff time.Time, limit int) ([]*model.Subscription, error) {
	return r.list(ctx, tx, "status='active' AND expire_at IS NOT NULL AND expire_at < $1", limit, cutoff)
}

func limitClause(n int) string {
	if n <= 0 {
		n = 100
	}
	return strconv.Itoa(n)
}
