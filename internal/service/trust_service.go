package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/escrow-broker/internal/domain/entity"
	"github.com/ignatzorin/escrow-broker/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-broker/internal/models"
	"github.com/ignatzorin/escrow-broker/internal/pkg/apperror"
	"github.com/ignatzorin/escrow-broker/internal/repository"
	"github.com/ignatzorin/escrow-broker/internal/validation"
)

const (
	suspiciousWindow          = 30 * 24 * time.Hour
	suspiciousDisputes        = 3
	suspiciousBadRatio        = 0.5
	suspiciousMinRatings      = 5
	suspiciousCancelledDeals  = 5
	defaultSecurityLogLimit   = 50
	maxSecurityLogPageEntries = 200
)

type RatingRepository interface {
	Create(ctx context.Context, rating *models.UserRating) error
	Exists(ctx context.Context, rating *models.UserRating) (bool, error)
	ListForUser(ctx context.Context, ratedID int64) ([]models.UserRating, error)
}

type BanRepository interface {
	Create(ctx context.Context, ban *models.UserBan) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.UserBan, error)
	GetActiveByUser(ctx context.Context, userID int64) (*models.UserBan, error)
	Deactivate(ctx context.Context, ban *models.UserBan) error
}

type SecurityLogRepository interface {
	Create(ctx context.Context, entry *models.SecurityLog) error
	List(ctx context.Context, filter models.SecurityLogFilter) ([]models.SecurityLog, error)
}

// TrustDealReader чтение сделок для оценок и эвристики риска.
type TrustDealReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Deal, error)
	CountCancelledForUser(ctx context.Context, userID int64, since time.Time) (int, error)
}

// DisputeCounter число споров пользователя за период.
type DisputeCounter interface {
	CountForUserSince(ctx context.Context, userID int64, since time.Time) (int, error)
}

// SecurityEvent событие для журнала безопасности.
type SecurityEvent struct {
	UserID      *int64
	EventType   string
	Description string
	Severity    models.Severity
	Meta        models.RequestMeta
	Data        map[string]any
}

// RatingInput оценка контрагента по завершённой сделке.
type RatingInput struct {
	DealID  uuid.UUID
	RaterID int64
	RatedID int64
	Rating  int
	Comment *string
}

// BanInput параметры блокировки. Пустой тип означает временный бан на DefaultBanDuration.
type BanInput struct {
	UserID        int64
	AdminID       int64
	Reason        string
	Type          models.BanType
	DurationHours int
}

// TrustService оценки, блокировки, журнал безопасности и оценка риска.
type TrustService struct {
	ratings  RatingRepository
	bans     BanRepository
	logs     SecurityLogRepository
	deals    TrustDealReader
	disputes DisputeCounter
	notifier EventNotifier
	log      logrus.FieldLogger
	now      func() time.Time
}

func NewTrustService(ratings RatingRepository, bans BanRepository, logs SecurityLogRepository, deals TrustDealReader, disputes DisputeCounter, notifier EventNotifier, log logrus.FieldLogger) *TrustService {
	return &TrustService{
		ratings:  ratings,
		bans:     bans,
		logs:     logs,
		deals:    deals,
		disputes: disputes,
		notifier: notifier,
		log:      log,
		now:      time.Now,
	}
}

// AddRating оценка возможна только по завершённой сделке и только для её участника.
func (s *TrustService) AddRating(ctx context.Context, in RatingInput, meta models.RequestMeta) (*models.UserRating, error) {
	if in.Rating < models.MinRating || in.Rating > models.MaxRating {
		return nil, apperror.Newf(apperror.ErrCodeValidation, "оценка должна быть от %d до %d", models.MinRating, models.MaxRating)
	}
	if err := validation.ValidateComment(in.Comment); err != nil {
		return nil, invalidInput(err)
	}
	if err := s.EnsureNotBanned(ctx, in.RaterID, "rate_user", meta); err != nil {
		return nil, err
	}

	deal, err := s.deals.GetByID(ctx, in.DealID)
	if err != nil {
		return nil, mapDealErr(err)
	}
	if deal.Status != valueobject.DealStatusCompleted {
		return nil, apperror.New(apperror.ErrCodeValidation, "оценить можно только завершённую сделку")
	}
	if !deal.IsParty(in.RaterID) {
		return nil, apperror.ErrNotParticipant
	}

	counterParty, _ := deal.CounterParty(in.RaterID)
	if in.RatedID == 0 {
		in.RatedID = counterParty
	}
	if in.RatedID != counterParty {
		return nil, apperror.New(apperror.ErrCodeValidation, "оценить можно только другую сторону сделки")
	}

	rating := &models.UserRating{
		ID:        uuid.New(),
		DealID:    in.DealID,
		RaterID:   in.RaterID,
		RatedID:   in.RatedID,
		Rating:    in.Rating,
		Comment:   trimOptional(in.Comment),
		CreatedAt: s.now().UTC(),
	}

	exists, err := s.ratings.Exists(ctx, rating)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, apperror.New(apperror.ErrCodeValidation, "вы уже оценили этого пользователя по этой сделке")
	}
	if err := s.ratings.Create(ctx, rating); err != nil {
		if errors.Is(err, repository.ErrDuplicateRating) {
			return nil, apperror.New(apperror.ErrCodeValidation, "вы уже оценили этого пользователя по этой сделке")
		}
		return nil, err
	}
	return rating, nil
}

// RatingSummary средняя оценка округляется до двух знаков.
func (s *TrustService) RatingSummary(ctx context.Context, userID int64) (*models.RatingSummary, error) {
	ratings, err := s.ratings.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	summary := &models.RatingSummary{UserID: userID, TotalRatings: len(ratings), Ratings: ratings}
	if len(ratings) > 0 {
		sum := 0
		for _, r := range ratings {
			sum += r.Rating
		}
		summary.AverageRating = math.Round(float64(sum)/float64(len(ratings))*100) / 100
	}
	return summary, nil
}

// BanUser блокирует пользователя, если у него нет действующего бана.
func (s *TrustService) BanUser(ctx context.Context, in BanInput, meta models.RequestMeta) (*models.UserBan, error) {
	if in.UserID <= 0 {
		return nil, apperror.New(apperror.ErrCodeValidation, "пользователь обязателен")
	}
	if err := validation.ValidateReason(in.Reason); err != nil {
		return nil, invalidInput(err)
	}
	if in.Type == "" {
		in.Type = models.BanTypeTemporary
	}
	if !in.Type.IsValid() {
		return nil, apperror.Newf(apperror.ErrCodeValidation, "неизвестный тип бана: %s", in.Type)
	}
	if in.DurationHours < 0 {
		return nil, apperror.New(apperror.ErrCodeValidation, "длительность бана не может быть отрицательной")
	}

	status, err := s.IsUserBanned(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	if status.IsBanned {
		return nil, errAlreadyBanned
	}

	now := s.now().UTC()
	ban := &models.UserBan{
		ID:        uuid.New(),
		UserID:    in.UserID,
		BannedBy:  in.AdminID,
		Reason:    strings.TrimSpace(in.Reason),
		BanType:   in.Type,
		IsActive:  true,
		CreatedAt: now,
	}
	if in.Type == models.BanTypeTemporary {
		duration := models.DefaultBanDuration
		if in.DurationHours > 0 {
			duration = time.Duration(in.DurationHours) * time.Hour
		}
		expires := now.Add(duration)
		ban.ExpiresAt = &expires
	}

	if err := s.bans.Create(ctx, ban); err != nil {
		if errors.Is(err, repository.ErrActiveBanExists) {
			return nil, errAlreadyBanned
		}
		return nil, err
	}

	s.Record(ctx, SecurityEvent{
		UserID:      &in.UserID,
		EventType:   models.SecurityEventUserBanned,
		Description: fmt.Sprintf("пользователь заблокирован администратором %d: %s", in.AdminID, ban.Reason),
		Severity:    models.SeverityWarning,
		Meta:        meta,
		Data:        map[string]any{"ban_id": ban.ID, "ban_type": ban.BanType, "admin_id": in.AdminID},
	})
	s.notifier.Notify(ctx, in.UserID, models.EventUserBanned, map[string]any{
		"reason":     ban.Reason,
		"ban_type":   ban.BanType,
		"expires_at": ban.ExpiresAt,
	})
	return ban, nil
}

// LiftBan ручное снятие активного бана.
func (s *TrustService) LiftBan(ctx context.Context, banID uuid.UUID, adminID int64, reason string, meta models.RequestMeta) (*models.UserBan, error) {
	ban, err := s.bans.GetByID(ctx, banID)
	if err != nil {
		if errors.Is(err, repository.ErrBanNotFound) {
			return nil, apperror.ErrBanNotFound
		}
		return nil, err
	}
	if !ban.IsActive {
		return nil, apperror.New(apperror.ErrCodeValidation, "бан уже снят")
	}

	now := s.now().UTC()
	reason = strings.TrimSpace(reason)
	ban.IsActive = false
	ban.LiftedBy = &adminID
	ban.LiftedAt = &now
	ban.LiftReason = &reason

	if err := s.bans.Deactivate(ctx, ban); err != nil {
		if errors.Is(err, repository.ErrBanNotFound) {
			return nil, apperror.New(apperror.ErrCodeValidation, "бан уже снят")
		}
		return nil, err
	}

	s.Record(ctx, SecurityEvent{
		UserID:      &ban.UserID,
		EventType:   models.SecurityEventBanLifted,
		Description: fmt.Sprintf("бан снят администратором %d: %s", adminID, reason),
		Severity:    models.SeverityInfo,
		Meta:        meta,
		Data:        map[string]any{"ban_id": ban.ID},
	})
	return ban, nil
}

// IsUserBanned истёкший, но ещё активный бан снимается и сохраняется при проверке.
func (s *TrustService) IsUserBanned(ctx context.Context, userID int64) (*models.BanStatus, error) {
	status := &models.BanStatus{UserID: userID}

	ban, err := s.bans.GetActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if ban == nil {
		return status, nil
	}

	if ban.IsExpired(s.now()) {
		ban.IsActive = false
		if err := s.bans.Deactivate(ctx, ban); err != nil && !errors.Is(err, repository.ErrBanNotFound) {
			return nil, err
		}
		s.log.WithFields(logrus.Fields{"user_id": userID, "ban_id": ban.ID}).Info("expired ban deactivated")
		return status, nil
	}

	status.IsBanned = true
	status.Ban = ban
	status.ExpiresAt = ban.ExpiresAt
	return status, nil
}

// EnsureNotBanned возвращает ErrUserBanned и пишет попытку в журнал.
func (s *TrustService) EnsureNotBanned(ctx context.Context, userID int64, action string, meta models.RequestMeta) error {
	status, err := s.IsUserBanned(ctx, userID)
	if err != nil {
		return err
	}
	if !status.IsBanned {
		return nil
	}

	s.Record(ctx, SecurityEvent{
		UserID:      &userID,
		EventType:   models.SecurityEventBannedUserAttempt,
		Description: "заблокированный пользователь пытался выполнить действие " + action,
		Severity:    models.SeverityWarning,
		Meta:        meta,
		Data:        map[string]any{"action": action, "ban_id": status.Ban.ID},
	})
	return apperror.ErrUserBanned
}

// LogSecurityEvent добавляет запись в журнал безопасности.
func (s *TrustService) LogSecurityEvent(ctx context.Context, ev SecurityEvent) (*models.SecurityLog, error) {
	if ev.EventType == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "тип события обязателен")
	}
	if ev.Severity == "" {
		ev.Severity = models.SeverityInfo
	}
	if !ev.Severity.IsValid() {
		return nil, apperror.Newf(apperror.ErrCodeValidation, "неизвестный уровень: %s", ev.Severity)
	}

	data := json.RawMessage(`{}`)
	if len(ev.Data) > 0 {
		raw, err := json.Marshal(ev.Data)
		if err != nil {
			return nil, fmt.Errorf("trust service: marshal additional data %w", err)
		}
		data = raw
	}

	entry := &models.SecurityLog{
		ID:             uuid.New(),
		UserID:         ev.UserID,
		EventType:      ev.EventType,
		Description:    ev.Description,
		Severity:       ev.Severity,
		IPAddress:      optionalString(ev.Meta.IPAddress),
		UserAgent:      optionalString(ev.Meta.UserAgent),
		AdditionalData: data,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.logs.Create(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Record запись в журнал без возврата ошибки. Сбой журнала не должен ломать основное действие.
func (s *TrustService) Record(ctx context.Context, ev SecurityEvent) {
	if _, err := s.LogSecurityEvent(ctx, ev); err != nil {
		s.log.WithField("event", ev.EventType).WithError(err).Error("failed to write security log")
	}
}

func (s *TrustService) ListSecurityLogs(ctx context.Context, filter models.SecurityLogFilter) ([]models.SecurityLog, error) {
	if filter.Severity != "" && !filter.Severity.IsValid() {
		return nil, apperror.Newf(apperror.ErrCodeValidation, "неизвестный уровень: %s", filter.Severity)
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultSecurityLogLimit
	}
	if filter.Limit > maxSecurityLogPageEntries {
		filter.Limit = maxSecurityLogPageEntries
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.logs.List(ctx, filter)
}

// DetectSuspiciousActivity эвристика риска. Только отчёт, пользователь не блокируется.
func (s *TrustService) DetectSuspiciousActivity(ctx context.Context, userID int64, meta models.RequestMeta) (*models.SuspiciousActivityReport, error) {
	since := s.now().Add(-suspiciousWindow)

	disputes, err := s.disputes.CountForUserSince(ctx, userID, since)
	if err != nil {
		return nil, err
	}
	ratings, err := s.ratings.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	cancelled, err := s.deals.CountCancelledForUser(ctx, userID, since)
	if err != nil {
		return nil, err
	}

	bad := 0
	for _, r := range ratings {
		if r.Rating <= models.BadRatingThreshold {
			bad++
		}
	}
	ratio := float64(bad) / float64(max(len(ratings), 1))

	report := &models.SuspiciousActivityReport{
		UserID:         userID,
		RiskLevel:      models.RiskLow,
		Factors:        []string{},
		Disputes:       disputes,
		TotalRatings:   len(ratings),
		BadRatingRatio: math.Round(ratio*100) / 100,
		CancelledDeals: cancelled,
	}

	if disputes >= suspiciousDisputes {
		report.RiskLevel = models.RiskHigh
		report.Factors = append(report.Factors, fmt.Sprintf("Multiple disputes (%d)", disputes))
	}
	if ratio >= suspiciousBadRatio && len(ratings) >= suspiciousMinRatings {
		report.RiskLevel = models.RiskHigh
		report.Factors = append(report.Factors, fmt.Sprintf("High bad rating ratio (%.2f)", ratio))
	}
	if cancelled >= suspiciousCancelledDeals {
		if report.RiskLevel != models.RiskHigh {
			report.RiskLevel = models.RiskMedium
		}
		report.Factors = append(report.Factors, fmt.Sprintf("Multiple cancelled deals (%d)", cancelled))
	}

	if report.RiskLevel == models.RiskHigh {
		s.Record(ctx, SecurityEvent{
			UserID:      &userID,
			EventType:   models.SecurityEventSuspicious,
			Description: "высокий уровень риска: " + strings.Join(report.Factors, ", "),
			Severity:    models.SeverityWarning,
			Meta:        meta,
			Data:        map[string]any{"risk_factors": report.Factors},
		})
	}
	return report, nil
}

func optionalString(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

func trimOptional(v *string) *string {
	if v == nil {
		return nil
	}
	return optionalString(*v)
}

var errAlreadyBanned = apperror.New(apperror.ErrCodeValidation, "пользователь уже заблокирован")
