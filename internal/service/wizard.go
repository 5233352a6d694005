package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"opay/internal/model"
	"opay/internal/scan"
	"opay/internal/wizard"
)

// ============================================================================
// 向导服务
// ============================================================================
//
// 向导的步骤规则在 wizard 包里，这里负责步骤之间的副作用：
//
//   Flexy 进入 confirm：分配唯一金额        退回 amount：释放唯一金额
//   任意流程离开 camera：释放摄像头会话      Cancel / 过期：两者都释放
//   进入 submit：创建充值 / 转账 / 礼品卡兑换，单号写回会话；转账或兑换失败换幂等键后可重试
//
// 【关键点】每次操作先在副本上推进，校验和副作用都成功后才保存，
// 失败时 Redis 里的会话保持原样
//
// ============================================================================

type WizardService struct {
	catalog   wizard.Catalog
	store     wizard.Store
	locker    Locker
	unique    *UniqueAmountService
	deposits  *DepositService
	transfers *TransferService
	giftcards *GiftCardService
	cameras   *scan.Registry
	log       *zap.Logger
	now       func() time.Time
}

type WizardDeps struct {
	Catalog   wizard.Catalog
	Store     wizard.Store
	Locker    Locker
	Unique    *UniqueAmountService
	Deposits  *DepositService
	Transfers *TransferService
	GiftCards *GiftCardService
	Cameras   *scan.Registry
	Log       *zap.Logger
}

func NewWizardService(deps WizardDeps) *WizardService {
	return &WizardService{
		catalog:   deps.Catalog,
		store:     deps.Store,
		locker:    deps.Locker,
		unique:    deps.Unique,
		deposits:  deps.Deposits,
		transfers: deps.Transfers,
		giftcards: deps.GiftCards,
		cameras:   deps.Cameras,
		log:       deps.Log.Named("wizard"),
		now:       time.Now,
	}
}

// Start 开始一个向导
func (s *WizardService) Start(ctx context.Context, userID, flowName string) (*wizard.Session, error) {
	flow, err := s.catalog.Get(flowName)
	if err != nil {
		return nil, err
	}
	sess := flow.Start(uuid.NewString(), userID, s.now())
	if err := s.store.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("保存向导会话失败: %w", err)
	}
	return sess, nil
}

func (s *WizardService) Get(ctx context.Context, userID, id string) (*wizard.Session, error) {
	sess, _, err := s.load(ctx, userID, id)
	return sess, err
}

// Next 合并表单字段后前进一步
func (s *WizardService) Next(ctx context.Context, userID, id string, patch wizard.Data) (*wizard.Session, error) {
	release, err := s.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	sess, flow, err := s.load(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	work := *sess
	if flow.Name == wizard.FlowFlexyDeposit && work.Step == wizard.StepConfirm {
		// 唯一金额按已确认的运营商和金额分配，修改需先退回
		patch.Operator = ""
		patch.Amount = decimal.Zero
	}
	work.Data.Merge(patch)

	tr, err := flow.Next(&work, s.now())
	if err != nil {
		return nil, err
	}

	if tr.Leaves(wizard.StepCamera) {
		s.cameras.Release(id)
	}

	if flow.Name == wizard.FlowFlexyDeposit && tr.To == wizard.StepConfirm {
		amount, err := s.unique.Allocate(ctx, userID, work.Data.Operator, work.Data.Amount)
		if err != nil {
			return nil, err
		}
		work.Data.UniqueAmount = amount
	}

	if tr.To == wizard.StepSubmit {
		no, failed, err := s.submit(ctx, &work)
		if err != nil {
			if failed {
				s.nextAttempt(ctx, sess)
			}
			return nil, err
		}
		work.Data.ResultNo = no
	}

	if err := s.store.Save(ctx, &work); err != nil {
		if tr.To == wizard.StepConfirm && flow.Name == wizard.FlowFlexyDeposit {
			s.unique.Release(ctx, userID, work.Data.Operator, work.Data.UniqueAmount)
		}
		return nil, fmt.Errorf("保存向导会话失败: %w", err)
	}

	s.log.Debug("向导前进",
		zap.String("id", id), zap.String("flow", flow.Name),
		zap.String("from", string(tr.From)), zap.String("to", string(tr.To)))
	return &work, nil
}

// Back 后退一步
func (s *WizardService) Back(ctx context.Context, userID, id string) (*wizard.Session, error) {
	release, err := s.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	sess, flow, err := s.load(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	work := *sess
	tr, err := flow.Back(&work, s.now())
	if err != nil {
		return nil, err
	}

	if tr.Leaves(wizard.StepCamera) {
		s.cameras.Release(id)
	}

	var held decimal.Decimal
	if flow.Name == wizard.FlowFlexyDeposit && tr.From == wizard.StepConfirm {
		held = work.Data.UniqueAmount
		work.Data.UniqueAmount = decimal.Zero
	}

	if err := s.store.Save(ctx, &work); err != nil {
		return nil, fmt.Errorf("保存向导会话失败: %w", err)
	}
	s.unique.Release(ctx, userID, work.Data.Operator, held)
	return &work, nil
}

// Cancel 关闭向导，释放摄像头和未提交的唯一金额
func (s *WizardService) Cancel(ctx context.Context, userID, id string) error {
	release, err := s.lock(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	sess, _, err := s.load(ctx, userID, id)
	if err != nil {
		return err
	}

	s.cameras.Release(id)
	if sess.Flow == wizard.FlowFlexyDeposit && !sess.Finished() {
		s.unique.Release(ctx, userID, sess.Data.Operator, sess.Data.UniqueAmount)
	}
	return s.store.Delete(ctx, id)
}

// OpenCamera 打开摄像头前校验会话停在 camera 步骤，返回扫码类型
func (s *WizardService) OpenCamera(ctx context.Context, userID, id string) (string, error) {
	sess, _, err := s.load(ctx, userID, id)
	if err != nil {
		return "", err
	}
	if sess.Step != wizard.StepCamera {
		return "", ErrNotAtCamera
	}
	if sess.Flow == wizard.FlowGiftCardRedeem {
		return scan.KindGift, nil
	}
	return scan.KindUser, nil
}

// AttachCamera 登记扫码会话，同一向导重新打开摄像头时旧会话先释放
//
// 【关键点】OpenCamera 到登记之间会话可能已离开 camera 步骤，
// 持向导锁登记后重新校验，不在 camera 步骤就立即释放
func (s *WizardService) AttachCamera(ctx context.Context, userID, id string, cam *scan.Session) error {
	release, err := s.lock(ctx, id)
	if err != nil {
		cam.Release()
		return err
	}
	defer release()

	s.cameras.Attach(id, cam)
	sess, _, err := s.load(ctx, userID, id)
	if err == nil && sess.Step != wizard.StepCamera {
		err = ErrNotAtCamera
	}
	if err != nil {
		s.cameras.Detach(id, cam)
		return err
	}
	return nil
}

// DetachCamera 扫码会话结束（匹配、断开、被释放）后调用
func (s *WizardService) DetachCamera(id string, cam *scan.Session) {
	s.cameras.Detach(id, cam)
}

// ActiveCameras 当前打开的摄像头会话数
func (s *WizardService) ActiveCameras() int {
	return s.cameras.Active()
}

// CameraMatched 扫码成功，把识别结果写入会话，不自动前进
func (s *WizardService) CameraMatched(ctx context.Context, userID, id, code string) (*wizard.Session, error) {
	release, err := s.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	sess, _, err := s.load(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if sess.Step != wizard.StepCamera {
		return nil, ErrNotAtCamera
	}

	if sess.Flow == wizard.FlowGiftCardRedeem {
		sess.Data.CardCode = code
	} else {
		sess.Data.RecipientCode = code
	}
	sess.UpdatedAt = s.now()
	if err := s.store.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("保存向导会话失败: %w", err)
	}
	return sess, nil
}

// submit 向导最后一步，幂等键为会话 ID 加提交次数，重复提交返回同一笔申请
//
// failed 表示这次提交已经落了一条 FAILED 记录，同一个幂等键再提交只会拿回这条记录
func (s *WizardService) submit(ctx context.Context, sess *wizard.Session) (no string, failed bool, err error) {
	d := sess.Data
	key := submitKey(sess)
	switch sess.Flow {
	case wizard.FlowFlexyDeposit:
		dep, err := s.deposits.CreateFlexy(ctx, sess.UserID, &FlexyDepositRequest{
			RequestID:    key,
			Operator:     d.Operator,
			Amount:       d.Amount,
			UniqueAmount: d.UniqueAmount,
			SenderPhone:  d.Phone,
			ReceiptPath:  d.ReceiptPath,
		})
		if err != nil {
			return "", false, err
		}
		return dep.RequestNo, false, nil

	case wizard.FlowQRTransfer:
		t, err := s.transfers.Transfer(ctx, sess.UserID, &TransferRequest{
			RequestID:     key,
			RecipientCode: d.RecipientCode,
			Amount:        d.Amount,
			Note:          d.Note,
		})
		if err != nil {
			return "", t != nil && t.Status == model.StatusFailed, err
		}
		return t.RequestNo, false, nil

	case wizard.FlowGiftCardRedeem:
		r, err := s.giftcards.Redeem(ctx, sess.UserID, &RedeemRequest{
			RequestID: key,
			CardCode:  d.CardCode,
		})
		if err != nil {
			return "", r != nil && r.Status == model.StatusFailed, err
		}
		return r.RequestNo, false, nil
	}
	return "", false, wizard.ErrUnknownFlow
}

func submitKey(sess *wizard.Session) string {
	if sess.Data.Attempt == 0 {
		return sess.ID
	}
	return fmt.Sprintf("%s-%d", sess.ID, sess.Data.Attempt)
}

// nextAttempt 提交失败后换一个幂等键，会话停在原步骤，用户修改后可以重新提交
func (s *WizardService) nextAttempt(ctx context.Context, sess *wizard.Session) {
	sess.Data.Attempt++
	sess.UpdatedAt = s.now()
	if err := s.store.Save(ctx, sess); err != nil {
		s.log.Warn("保存提交次数失败", zap.String("id", sess.ID), zap.Error(err))
	}
}

// load 读取会话并校验归属。会话过期视为用户关闭了向导，顺带释放摄像头
func (s *WizardService) load(ctx context.Context, userID, id string) (*wizard.Session, *wizard.Flow, error) {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, wizard.ErrSessionNotFound) {
			s.cameras.Release(id)
		}
		return nil, nil, err
	}
	if sess.UserID != userID {
		return nil, nil, wizard.ErrSessionNotFound
	}
	flow, err := s.catalog.Get(sess.Flow)
	if err != nil {
		return nil, nil, err
	}
	return sess, flow, nil
}

func (s *WizardService) lock(ctx context.Context, id string) (func(), error) {
	release, err := s.locker.Acquire(ctx, "wizard:"+id, uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestBusy, err)
	}
	return release, nil
}
