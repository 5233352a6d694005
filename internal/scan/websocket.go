package scan

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const maxFrameSize = 4096

// WebSocketStream 把一条 websocket 连接当作视频流：每条文本消息是一帧
type WebSocketStream struct {
	conn   *websocket.Conn
	frames chan Frame
	stop   chan struct{}
	tracks atomic.Int32
	once   sync.Once
	wmu    sync.Mutex
}

// NewWebSocketStream 启动读协程，连接关闭或 Stop 后 frames 关闭
func NewWebSocketStream(conn *websocket.Conn) *WebSocketStream {
	s := &WebSocketStream{
		conn:   conn,
		frames: make(chan Frame, 8),
		stop:   make(chan struct{}),
	}
	s.tracks.Store(1)
	conn.SetReadLimit(maxFrameSize)

	go s.readLoop()
	return s
}

func (s *WebSocketStream) readLoop() {
	defer close(s.frames)

	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			s.tracks.Store(0)
			return
		}
		select {
		case s.frames <- Frame{Data: msg, At: time.Now()}:
		case <-s.stop:
			return
		}
	}
}

func (s *WebSocketStream) Frames() <-chan Frame {
	return s.frames
}

func (s *WebSocketStream) ActiveTracks() int {
	return int(s.tracks.Load())
}

// WriteJSON 回写识别结果，需在 Stop 之前调用
func (s *WebSocketStream) WriteJSON(v interface{}) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return s.conn.WriteJSON(v)
}

func (s *WebSocketStream) Stop() {
	s.once.Do(func() {
		s.tracks.Store(0)
		close(s.stop)

		s.wmu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "scan finished"),
			time.Now().Add(time.Second))
		s.wmu.Unlock()

		_ = s.conn.Close()
	})
}
