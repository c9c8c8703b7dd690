package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"walletpay/internal/model"
	"walletpay/internal/repository"
	"walletpay/pkg/errcode"

	"gorm.io/gorm"
)

const (
	defaultBillPageSize = 20
	maxBillPageSize     = 100
)

type BillService struct {
	db       *gorm.DB
	appRepo  *repository.AppRepository
	billRepo *repository.BillRepository
}

func NewBillService(db *gorm.DB) *BillService {
	return &BillService{
		db:       db,
		appRepo:  repository.NewAppRepository(db),
		billRepo: repository.NewBillRepository(db),
	}
}

// ListBillsRequest 流水账单查询请求
type ListBillsRequest struct {
	AppID        string
	Owner        model.Owner
	AppServiceID string
	TradeTypes   []string
	TimeStart    time.Time
	TimeEnd      time.Time
	Marker       string
	PageSize     int
}

// BillPage 游标分页结果
type BillPage struct {
	HasNext    bool                     `json:"has_next"`
	Marker     string                   `json:"marker"`
	NextMarker string                   `json:"next_marker"`
	PageSize   int                      `json:"page_size"`
	Results    []*model.TransactionBill `json:"results"`
}

// ListAppBills 查询应用维度的交易流水，按时间倒序游标分页
//
// 查询窗口必须给定且不超过1年；trade_type 不传时默认查询支付和退款
func (s *BillService) ListAppBills(ctx context.Context, req *ListBillsRequest) (*BillPage, error) {
	app, err := s.appRepo.GetApp(ctx, req.AppID)
	if err != nil {
		if errors.Is(err, repository.ErrAppNotFound) {
			return nil, errcode.ErrNoSuchApp
		}
		return nil, err
	}
	if err := checkAppStatus(app); err != nil {
		return nil, err
	}

	if req.TimeStart.IsZero() || req.TimeEnd.IsZero() {
		return nil, errcode.ErrInvalidArgument.WithMessage("必须指定时间段 trade_time_start 和 trade_time_end")
	}
	if !req.TimeStart.Before(req.TimeEnd) {
		return nil, errcode.ErrInvalidArgument.WithMessage("时间段无效，trade_time_start 必须早于 trade_time_end")
	}
	if req.TimeStart.AddDate(1, 0, 0).Before(req.TimeEnd) {
		return nil, errcode.ErrBadRequest.WithMessage("查询时间段不得超过1年")
	}

	tradeTypes := req.TradeTypes
	if len(tradeTypes) == 0 {
		tradeTypes = []string{model.TradeTypePayment, model.TradeTypeRefund}
	}
	for _, t := range tradeTypes {
		if !model.IsValidTradeType(t) {
			return nil, errcode.ErrInvalidArgument.WithMessage(fmt.Sprintf("无效的交易类型: %s", t))
		}
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = defaultBillPageSize
	}
	if pageSize > maxBillPageSize {
		pageSize = maxBillPageSize
	}

	filter := repository.BillFilter{
		AppID:        req.AppID,
		OwnerType:    req.Owner.Type,
		OwnerID:      req.Owner.ID,
		AppServiceID: req.AppServiceID,
		TradeTypes:   tradeTypes,
		TimeStart:    req.TimeStart,
		TimeEnd:      req.TimeEnd,
	}

	bills, hasNext, err := s.billRepo.List(ctx, filter, req.Marker, pageSize)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidMarker) {
			return nil, errcode.ErrInvalidArgument.WithMessage("无效的分页标记 marker")
		}
		return nil, fmt.Errorf("查询交易流水失败: %w", err)
	}

	page := &BillPage{
		HasNext:  hasNext,
		Marker:   req.Marker,
		PageSize: pageSize,
		Results:  bills,
	}
	if hasNext && len(bills) > 0 {
		last := bills[len(bills)-1]
		page.NextMarker = repository.EncodeMarker(last.CreationTime, last.ID)
	}
	return page, nil
}
