package probe

import (
	"context"
	"net"
	"strconv"
	"time"
)

// IsReachable 尝试建立 TCP 连接，成功后立即关闭；出错或超时返回 false
func IsReachable(ctx context.Context, host string, port int, timeout time.Duration) bool {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
