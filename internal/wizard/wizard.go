package wizard

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================================
// 多步骤向导
// ============================================================================
//
// Flexy 充值、扫码转账、礼品卡兑换都是同一种结构：
//
//   choose -> {amount | scan | camera} -> confirm -> submit
//
// 【关键点】
//  1. Next 只前进一步，Back 只后退一步，不允许跳步
//  2. 进入某一步之前先执行该步的 Guard，校验失败会话保持不变
//  3. 到达 submit 之后会话结束，不能再后退
//
// ============================================================================

type Step string

const (
	StepChoose  Step = "choose"
	StepAmount  Step = "amount"
	StepScan    Step = "scan"
	StepCamera  Step = "camera"
	StepConfirm Step = "confirm"
	StepSubmit  Step = "submit"

	// stepCapture 占位步骤，按 Data.Mode 解析为 scan 或 camera
	stepCapture Step = "capture"
)

type Mode string

const (
	ModeScan   Mode = "scan"   // 手动输入/粘贴二维码内容
	ModeCamera Mode = "camera" // 摄像头实时扫码
)

var (
	ErrAtStart      = errors.New("已经是第一步")
	ErrAtEnd        = errors.New("已经是最后一步")
	ErrFinished     = errors.New("向导已提交，不能再修改")
	ErrUnknownFlow  = errors.New("未知的向导类型")
	ErrModeRequired = errors.New("请选择扫码方式")
)

// Data 表单字段，各流程只用到其中一部分
type Data struct {
	Operator      string          `json:"operator,omitempty"`
	Mode          Mode            `json:"mode,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	UniqueAmount  decimal.Decimal `json:"unique_amount"`
	Phone         string          `json:"phone,omitempty"`
	ReceiptPath   string          `json:"receipt_path,omitempty"`
	RecipientCode string          `json:"recipient_code,omitempty"`
	CardCode      string          `json:"card_code,omitempty"`
	Note          string          `json:"note,omitempty"`
	ResultNo      string          `json:"result_no,omitempty"`
	Attempt       int             `json:"attempt,omitempty"` // 提交失败次数，只由服务端维护
}

// Merge 用 patch 中的非零字段覆盖当前字段
func (d *Data) Merge(patch Data) {
	if patch.Operator != "" {
		d.Operator = patch.Operator
	}
	if patch.Mode != "" {
		d.Mode = patch.Mode
	}
	if !patch.Amount.IsZero() {
		d.Amount = patch.Amount
	}
	if patch.Phone != "" {
		d.Phone = patch.Phone
	}
	if patch.ReceiptPath != "" {
		d.ReceiptPath = patch.ReceiptPath
	}
	if patch.RecipientCode != "" {
		d.RecipientCode = patch.RecipientCode
	}
	if patch.CardCode != "" {
		d.CardCode = patch.CardCode
	}
	if patch.Note != "" {
		d.Note = patch.Note
	}
}

// Session 一次向导会话
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Flow      string    `json:"flow"`
	Index     int       `json:"index"`
	Step      Step      `json:"step"`
	Data      Data      `json:"data"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Finished 是否已到达 submit
func (s *Session) Finished() bool {
	return s.Step == StepSubmit
}

// Guard 进入某一步前的校验
type Guard func(d *Data) error

// Transition 一次步骤变化
type Transition struct {
	From Step
	To   Step
}

// Leaves 是否离开了指定步骤
func (t Transition) Leaves(step Step) bool {
	return t.From == step && t.To != step
}

// Flow 流程定义
type Flow struct {
	Name   string
	Steps  []Step
	Guards map[Step]Guard
}

// Start 创建新会话，停在第一步
func (f *Flow) Start(id, userID string, now time.Time) *Session {
	return &Session{
		ID:        id,
		UserID:    userID,
		Flow:      f.Name,
		Index:     0,
		Step:      f.Steps[0],
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Next 前进一步
func (f *Flow) Next(s *Session, now time.Time) (Transition, error) {
	if s.Finished() {
		return Transition{}, ErrFinished
	}
	if s.Index >= len(f.Steps)-1 {
		return Transition{}, ErrAtEnd
	}

	target, err := f.stepAt(s.Index+1, &s.Data)
	if err != nil {
		return Transition{}, err
	}
	if guard := f.Guards[target]; guard != nil {
		if err := guard(&s.Data); err != nil {
			return Transition{}, err
		}
	}

	tr := Transition{From: s.Step, To: target}
	s.Index++
	s.Step = target
	s.UpdatedAt = now
	return tr, nil
}

// Back 后退一步，不执行 Guard
func (f *Flow) Back(s *Session, now time.Time) (Transition, error) {
	if s.Finished() {
		return Transition{}, ErrFinished
	}
	if s.Index == 0 {
		return Transition{}, ErrAtStart
	}

	target, err := f.stepAt(s.Index-1, &s.Data)
	if err != nil {
		return Transition{}, err
	}

	tr := Transition{From: s.Step, To: target}
	s.Index--
	s.Step = target
	s.UpdatedAt = now
	return tr, nil
}

func (f *Flow) stepAt(i int, d *Data) (Step, error) {
	step := f.Steps[i]
	if step != stepCapture {
		return step, nil
	}
	switch d.Mode {
	case ModeScan:
		return StepScan, nil
	case ModeCamera:
		return StepCamera, nil
	}
	return "", ErrModeRequired
}

// Catalog 流程注册表
type Catalog map[string]*Flow

func (c Catalog) Get(name string) (*Flow, error) {
	f, ok := c[name]
	if !ok {
		return nil, ErrUnknownFlow
	}
	return f, nil
}
