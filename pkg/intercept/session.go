package intercept

import (
	"context"

	"github.com/mafredri/cdp/rpcc"
)

// Session 发送协议命令并等待对应应答的双向通道，
// 远端拒绝命令或通道不可用时返回错误
type Session interface {
	Send(ctx context.Context, method string, args, reply any) error
}

// connSession 基于 rpcc 连接的 Session 实现
type connSession struct {
	conn *rpcc.Conn
}

// NewConnSession 将 rpcc 连接包装为 Session
func NewConnSession(conn *rpcc.Conn) Session {
	return &connSession{conn: conn}
}

func (s *connSession) Send(ctx context.Context, method string, args, reply any) error {
	return rpcc.Invoke(ctx, method, args, reply, s.conn)
}
