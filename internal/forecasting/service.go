package forecasting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"pharmacore/m/domain"
)

const (
	// DefaultLookbackDays is the trailing window used for training and serving.
	DefaultLookbackDays = 365
	// MinTrainingPoints is the shortest prepared series the pipeline trains on.
	MinTrainingPoints = 14
	// MinForecastPoints is the fewest raw sale days a forecast request needs.
	MinForecastPoints = 7
	// DefaultMinSaleDays filters forecastable targets.
	DefaultMinSaleDays = 14

	bulkConcurrency = 4
)

// BaselineMessage accompanies naive fallback forecasts.
const BaselineMessage = "Showing baseline projection (model unavailable)"

// Options configures a Service. Zero values pick defaults.
type Options struct {
	LookbackDays int
	Now          func() time.Time
	Metrics      *Metrics
	Logger       *zerolog.Logger
	Tracer       trace.Tracer
}

// Service trains, stores and serves demand forecasts.
type Service struct {
	repo     *Repository
	models   *Registry
	metrics  *Metrics
	log      zerolog.Logger
	tracer   trace.Tracer
	now      func() time.Time
	lookback int
}

func NewService(repo *Repository, models *Registry, opts Options) *Service {
	s := &Service{
		repo:     repo,
		models:   models,
		metrics:  opts.Metrics,
		log:      zerolog.Nop(),
		tracer:   opts.Tracer,
		now:      opts.Now,
		lookback: opts.LookbackDays,
	}
	if opts.Logger != nil {
		s.log = opts.Logger.With().Str("component", "forecasting").Logger()
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(nil)
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer("pharmacore/forecasting")
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.lookback <= 0 {
		s.lookback = DefaultLookbackDays
	}
	return s
}

func (s *Service) today() domain.Date { return domain.NewDate(s.now()) }

// TrainRequest names the target to train. LookbackDays <= 0 uses the service default.
type TrainRequest struct {
	PharmacyID   int64
	Kind         domain.TargetKind
	TargetID     string
	TargetName   string
	LookbackDays int
}

func (r TrainRequest) key() ModelKey {
	return ModelKey{PharmacyID: r.PharmacyID, Kind: r.Kind, TargetID: r.TargetID}
}

// TrainResult reports a successful training run. Metrics are rounded as stored.
type TrainResult struct {
	Accuracy       Accuracy  `json:"metrics"`
	TrainingRows   int       `json:"data_points"`
	SeasonalPeriod int       `json:"seasonal_period"`
	Model          ModelMeta `json:"model"`
	TrainedAt      time.Time `json:"trained_at"`
}

// Train fits and persists the production model for a target. Expected data
// shortfalls return a nil result with a reason and a nil error; fitting and
// storage failures return an error.
func (s *Service) Train(ctx context.Context, req TrainRequest) (res *TrainResult, msg string, err error) {
	ctx, span := s.tracer.Start(ctx, "forecasting.Train", trace.WithAttributes(targetAttrs(req.key())...))
	defer func() {
		switch {
		case err != nil:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.metrics.TrainingRuns.WithLabelValues("failed").Inc()
		case res == nil:
			span.SetAttributes(attribute.String("forecast.skipped", msg))
			s.metrics.TrainingRuns.WithLabelValues("insufficient_data").Inc()
		default:
			s.metrics.TrainingRuns.WithLabelValues("trained").Inc()
		}
		span.End()
	}()
	started := time.Now()

	points, err := s.history(ctx, req.key(), req.LookbackDays)
	if err != nil {
		return nil, "", err
	}
	if len(points) == 0 || NetQuantity(points) <= 0 {
		return nil, MsgNoHistory, nil
	}
	series := PrepareSeries(points)
	if series.Len() < MinTrainingPoints || series.Flat() {
		return nil, MsgShortOrFlat, nil
	}

	n := series.Len()
	period := InferSeasonalPeriod(n)
	split := TrainSize(n)
	trainEnd := series.Start.AddDays(split - 1).Time

	holdout, err := FitModel(series.Values[:split], period, trainEnd)
	if err != nil {
		return nil, "", fmt.Errorf("holdout fit: %w", err)
	}
	s.metrics.observeFit(holdout)
	acc := Accuracy{Percentage: 100}
	if test := series.Values[split:]; len(test) > 0 {
		pred, err := GenerateForecast(holdout, len(test), &trainEnd, s.now())
		if err != nil {
			return nil, "", fmt.Errorf("holdout forecast: %w", err)
		}
		acc = Evaluate(test, pred.Values, series.Values)
	}

	production, err := FitModel(series.Values, period, series.End().Time)
	if err != nil {
		return nil, "", fmt.Errorf("production fit: %w", err)
	}
	s.metrics.observeFit(production)
	meta := production.Meta()
	if meta.FallbackReason != "" {
		s.log.Warn().Str("target", req.TargetID).Str("reason", meta.FallbackReason).
			Msg("seasonal ARIMA declined, using exponential smoothing")
	}

	if err := s.models.Save(ctx, req.key(), production); err != nil {
		return nil, "", fmt.Errorf("persist model: %w", err)
	}
	trainedAt := s.now().UTC()
	acc = acc.Rounded()
	record := domain.ModelAccuracyRecord{
		PharmacyID:         req.PharmacyID,
		Kind:               req.Kind,
		TargetID:           req.TargetID,
		TargetName:         req.TargetName,
		AccuracyPercentage: acc.Percentage,
		MAE:                acc.MAE,
		RMSE:               acc.RMSE,
		SeasonalPeriod:     period,
		ModelOrder:         meta.OrderJSON(),
		TrainingRows:       n,
		LastTrainedAt:      domain.Timestamp{Time: trainedAt},
	}
	if err := s.repo.UpsertAccuracy(ctx, record); err != nil {
		return nil, "", err
	}
	s.metrics.TrainingSeconds.Observe(time.Since(started).Seconds())
	s.log.Info().
		Int64("pharmacy_id", req.PharmacyID).
		Str("kind", string(req.Kind)).
		Str("target", req.TargetID).
		Str("family", string(meta.Family)).
		Int("rows", n).
		Float64("accuracy", acc.Percentage).
		Msg("model trained")

	return &TrainResult{
		Accuracy:       acc,
		TrainingRows:   n,
		SeasonalPeriod: period,
		Model:          meta,
		TrainedAt:      trainedAt,
	}, fmt.Sprintf("Model trained on %d days of real sales for %s", n, displayName(req.TargetName, req.TargetID)), nil
}

// ForecastRequest names the target and the number of days to forecast.
type ForecastRequest struct {
	PharmacyID int64
	Kind       domain.TargetKind
	TargetID   string
	TargetName string
	Horizon    int
}

func (r ForecastRequest) key() ModelKey {
	return ModelKey{PharmacyID: r.PharmacyID, Kind: r.Kind, TargetID: r.TargetID}
}

// Forecast serves Horizon days of predictions. A missing model is trained on
// demand; when training reports insufficient data the naive baseline is
// returned with accuracy 0.
func (s *Service) Forecast(ctx context.Context, req ForecastRequest) (res *domain.ForecastResult, err error) {
	ctx, span := s.tracer.Start(ctx, "forecasting.Forecast", trace.WithAttributes(
		append(targetAttrs(req.key()), attribute.Int("forecast.horizon", req.Horizon))...))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	if req.Horizon <= 0 {
		return nil, fmt.Errorf("horizon must be positive, got %d", req.Horizon)
	}

	points, err := s.history(ctx, req.key(), s.lookback)
	if err != nil {
		return nil, err
	}
	if len(points) < MinForecastPoints {
		return nil, &InsufficientDataError{Reason: MsgForecastHistory}
	}
	series := PrepareSeries(points)

	source := "stored"
	model, err := s.models.Load(ctx, req.key())
	if err != nil && !errors.Is(err, ErrModelNotFound) {
		if errors.Is(err, ErrCorruptModel) || errors.Is(err, ErrUnsupportedModel) {
			s.log.Warn().Err(err).Str("target", req.TargetID).Msg("stored model unreadable, retraining")
			err = ErrModelNotFound
		} else {
			return nil, fmt.Errorf("load model: %w", err)
		}
	}
	if errors.Is(err, ErrModelNotFound) {
		source = "trained"
		trained, msg, terr := s.Train(ctx, TrainRequest{
			PharmacyID: req.PharmacyID,
			Kind:       req.Kind,
			TargetID:   req.TargetID,
			TargetName: req.TargetName,
		})
		if terr != nil {
			return nil, terr
		}
		if trained == nil {
			s.metrics.Forecasts.WithLabelValues("baseline").Inc()
			s.log.Info().Str("target", req.TargetID).Str("reason", msg).Msg("serving baseline forecast")
			out := NaiveForecast(series, req.Horizon, s.today())
			zero := 0.0
			out.Accuracy = &zero
			out.Message = BaselineMessage
			return out, nil
		}
		if model, err = s.models.Load(ctx, req.key()); err != nil {
			return nil, fmt.Errorf("reload model: %w", err)
		}
	}

	last := series.End().Time
	out, err := GenerateForecast(model, req.Horizon, &last, s.now())
	if err != nil {
		return nil, err
	}
	rec, err := s.repo.Accuracy(ctx, req.key())
	if err != nil {
		return nil, err
	}
	if rec != nil {
		acc := rec.AccuracyPercentage
		out.Accuracy = &acc
	}
	out.Message = "Forecasts generated for " + displayName(req.TargetName, req.TargetID)
	s.metrics.Forecasts.WithLabelValues(source).Inc()
	return out, nil
}

// Accuracy returns the stored record for key, or nil when the target was never trained.
func (s *Service) Accuracy(ctx context.Context, key ModelKey) (*domain.ModelAccuracyRecord, error) {
	return s.repo.Accuracy(ctx, key)
}

// Timeframes accepted by HistoricalSeries, in days. MAX has no window.
var Timeframes = map[string]int{"1D": 1, "7D": 7, "1M": 30, "3M": 90, "1Y": 365, "MAX": 0}

// ErrInvalidTimeframe is returned for timeframes outside Timeframes.
var ErrInvalidTimeframe = errors.New("timeframe must be one of 1D, 7D, 1M, 3M, 1Y, MAX")

// HistoricalSeries is a window of daily sales for charting.
type HistoricalSeries struct {
	Points []domain.HistoricalDemandPoint `json:"data"`
	From   *domain.Date                   `json:"from"`
	To     *domain.Date                   `json:"to"`
}

// HistoricalSeries returns daily sales for a target. Fixed windows end today
// and are zero-filled; MAX spans the recorded history without filling.
func (s *Service) HistoricalSeries(ctx context.Context, key ModelKey, timeframe string) (*HistoricalSeries, error) {
	timeframe = strings.ToUpper(strings.TrimSpace(timeframe))
	if timeframe == "" {
		timeframe = "1M"
	}
	days, ok := Timeframes[timeframe]
	if !ok {
		return nil, ErrInvalidTimeframe
	}
	out := &HistoricalSeries{Points: []domain.HistoricalDemandPoint{}}
	if days == 0 {
		first, last, found, err := s.repo.HistoricalBounds(ctx, key)
		if err != nil || !found {
			return out, err
		}
		points, err := s.repo.Historical(ctx, key, first, last)
		if err != nil {
			return nil, err
		}
		out.Points, out.From, out.To = points, &first, &last
		return out, nil
	}
	to := s.today()
	from := to.AddDays(-(days - 1))
	points, err := s.repo.Historical(ctx, key, from, to)
	if err != nil {
		return nil, err
	}
	out.Points, out.From, out.To = FillWindow(points, from, to), &from, &to
	return out, nil
}

// ListModels returns the pharmacy's accuracy records, newest first.
func (s *Service) ListModels(ctx context.Context, pharmacyID int64) ([]domain.ModelAccuracyRecord, error) {
	return s.repo.ListAccuracy(ctx, pharmacyID)
}

// AccuracySummary aggregates the pharmacy's model accuracy.
type AccuracySummary struct {
	TotalModels     int     `json:"total_models"`
	AverageAccuracy float64 `json:"average_accuracy"`
	ModelsAbove90   int     `json:"models_above_90_percent"`
}

func (s *Service) AccuracySummary(ctx context.Context, pharmacyID int64) (AccuracySummary, error) {
	records, err := s.repo.ListAccuracy(ctx, pharmacyID)
	if err != nil {
		return AccuracySummary{}, err
	}
	var sum AccuracySummary
	var total float64
	for _, r := range records {
		sum.TotalModels++
		total += r.AccuracyPercentage
		if r.AccuracyPercentage >= 90 {
			sum.ModelsAbove90++
		}
	}
	if sum.TotalModels > 0 {
		sum.AverageAccuracy = round(total/float64(sum.TotalModels), 2)
	}
	return sum, nil
}

func (s *Service) ForecastableProducts(ctx context.Context, pharmacyID int64, minDays int) ([]Target, error) {
	if minDays <= 0 {
		minDays = DefaultMinSaleDays
	}
	return s.repo.ForecastableProducts(ctx, pharmacyID, minDays)
}

func (s *Service) ForecastableCategories(ctx context.Context, pharmacyID int64, minDays int) ([]Target, error) {
	if minDays <= 0 {
		minDays = DefaultMinSaleDays
	}
	return s.repo.ForecastableCategories(ctx, pharmacyID, minDays)
}

// DeleteModel drops the stored model and its accuracy record.
func (s *Service) DeleteModel(ctx context.Context, key ModelKey) error {
	if err := s.models.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete model: %w", err)
	}
	return s.repo.DeleteAccuracy(ctx, key)
}

// BulkTarget is one entry of a bulk forecast request.
type BulkTarget struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type BulkItem struct {
	TargetID   string                 `json:"target_id"`
	TargetName string                 `json:"target_name"`
	Success    bool                   `json:"success"`
	Forecast   *domain.ForecastResult `json:"forecast,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

type BulkResult struct {
	Items     []BulkItem `json:"results"`
	Total     int        `json:"total"`
	Succeeded int        `json:"successful"`
	Failed    int        `json:"failed"`
}

// BulkForecast forecasts several targets of one kind concurrently. A failing
// target is reported in its item and does not abort the others.
func (s *Service) BulkForecast(ctx context.Context, pharmacyID int64, kind domain.TargetKind, targets []BulkTarget, horizon int) (*BulkResult, error) {
	items := make([]BulkItem, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bulkConcurrency)
	for i, t := range targets {
		g.Go(func() error {
			items[i] = BulkItem{TargetID: t.ID, TargetName: t.Name}
			if err := gctx.Err(); err != nil {
				items[i].Error = err.Error()
				return nil
			}
			res, err := s.Forecast(gctx, ForecastRequest{
				PharmacyID: pharmacyID,
				Kind:       kind,
				TargetID:   t.ID,
				TargetName: t.Name,
				Horizon:    horizon,
			})
			if err != nil {
				items[i].Error = err.Error()
				return nil
			}
			items[i].Success, items[i].Forecast = true, res
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := &BulkResult{Items: items, Total: len(items)}
	for _, it := range items {
		if it.Success {
			out.Succeeded++
		} else {
			out.Failed++
		}
	}
	return out, nil
}

func (s *Service) history(ctx context.Context, key ModelKey, days int) ([]domain.HistoricalDemandPoint, error) {
	if days <= 0 {
		days = s.lookback
	}
	to := s.today()
	return s.repo.Historical(ctx, key, to.AddDays(-(days-1)), to)
}

func targetAttrs(key ModelKey) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int64("pharmacy.id", key.PharmacyID),
		attribute.String("forecast.kind", string(key.Kind)),
		attribute.String("forecast.target", key.TargetID),
	}
}

func displayName(name, id string) string {
	if strings.TrimSpace(name) != "" {
		return name
	}
	return id
}
