package repository

import (
	"context"
	"errors"

	"walletpay/internal/model"

	"gorm.io/gorm"
)

var (
	ErrAppNotFound        = errors.New("应用不存在")
	ErrAppServiceNotFound = errors.New("应用子服务不存在")
)

type AppRepository struct {
	db *gorm.DB
}

func NewAppRepository(db *gorm.DB) *AppRepository {
	return &AppRepository{db: db}
}

func (r *AppRepository) CreateApp(ctx context.Context, app *model.PayApp) error {
	return r.db.WithContext(ctx).Create(app).Error
}

func (r *AppRepository) GetApp(ctx context.Context, appID string) (*model.PayApp, error) {
	var app model.PayApp
	err := r.db.WithContext(ctx).Where("id = ?", appID).First(&app).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAppNotFound
		}
		return nil, err
	}
	return &app, nil
}

func (r *AppRepository) CreateAppService(ctx context.Context, service *model.PayAppService) error {
	return r.db.WithContext(ctx).Create(service).Error
}

func (r *AppRepository) GetAppService(ctx context.Context, serviceID string) (*model.PayAppService, error) {
	var service model.PayAppService
	err := r.db.WithContext(ctx).Where("id = ?", serviceID).First(&service).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAppServiceNotFound
		}
		return nil, err
	}
	return &service, nil
}
