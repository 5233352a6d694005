package scan

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ============================================================================
// 摄像头扫码会话
// ============================================================================
//
// 整个钱包里唯一需要"保证释放"的资源：摄像头视频流 + 解码器。
//
// 必须释放的时机：
//   1. 连接断开（页面卸载）
//   2. 向导离开 camera 步骤（Next / Back）
//   3. 用户关闭向导
//   4. 重新进入扫码（旧会话先释放）
//
// 【关键点】Run 的所有退出路径都会调用 Release，Release 幂等，
// 释放后 ActiveTracks() 必须为 0
//
// ============================================================================

var (
	ErrReleased     = errors.New("扫码会话已释放")
	ErrStreamClosed = errors.New("视频流已关闭")
)

// Frame 一帧数据
type Frame struct {
	Data []byte
	At   time.Time
}

// Stream 视频流
type Stream interface {
	Frames() <-chan Frame
	ActiveTracks() int
	Stop()
}

// Decoder 帧解码器
type Decoder interface {
	Decode(f Frame) (string, bool)
	Close()
}

// Session 一次扫码
type Session struct {
	ID string

	stream  Stream
	decoder Decoder

	// OnMatch 解码成功、释放资源之前调用，用于把结果回写给客户端
	OnMatch func(code string)

	once sync.Once
	done chan struct{}
}

func NewSession(id string, stream Stream, decoder Decoder) *Session {
	return &Session{
		ID:      id,
		stream:  stream,
		decoder: decoder,
		done:    make(chan struct{}),
	}
}

// Run 持续解码直到：匹配成功 / 会话被释放 / 流结束 / ctx 取消
func (s *Session) Run(ctx context.Context) (string, error) {
	defer s.Release()

	frames := s.stream.Frames()
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-s.done:
			return "", ErrReleased
		case f, ok := <-frames:
			if !ok {
				return "", ErrStreamClosed
			}
			code, matched := s.decoder.Decode(f)
			if !matched {
				continue
			}
			if s.OnMatch != nil {
				s.OnMatch(code)
			}
			return code, nil
		}
	}
}

// Release 停止视频流并关闭解码器，可重复调用
func (s *Session) Release() {
	s.once.Do(func() {
		close(s.done)
		s.stream.Stop()
		s.decoder.Close()
	})
}

// Released 是否已释放
func (s *Session) Released() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// ActiveTracks 当前占用的轨道数
func (s *Session) ActiveTracks() int {
	return s.stream.ActiveTracks()
}
