package zookeeper

import (
	"strings"

	"github.com/go-zookeeper/zk"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Client is a thin wrapper around a single ZooKeeper session. The lag check opens one session
// per check cycle and closes it before the cycle ends, so the client carries no state besides
// the connection itself.
type Client struct {
	cfg    Config
	conn   *zk.Conn
	logger *zap.Logger
}

// NewClient connects to the configured ZooKeeper ensemble. The session is established lazily by
// the underlying library, so a successful return does not guarantee the ensemble is reachable.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	conn, _, err := zk.Connect(cfg.Servers, cfg.SessionTimeout, zk.WithLogger(printfLogger{logger.Sugar()}))
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to zookeeper ensemble")
	}

	return &Client{
		cfg:    cfg,
		conn:   conn,
		logger: logger,
	}, nil
}

// Children lists the names of all child nodes under the given path.
func (c *Client) Children(path string) ([]string, error) {
	children, _, err := c.conn.Children(c.resolvePath(path))
	if err != nil {
		if err == zk.ErrNoNode {
			return nil, err
		}
		return nil, errors.Wrapf(err, "failed to list children of '%v'", path)
	}
	return children, nil
}

// Get reads the value stored at the given path.
func (c *Client) Get(path string) ([]byte, error) {
	value, _, err := c.conn.Get(c.resolvePath(path))
	if err != nil {
		if err == zk.ErrNoNode {
			return nil, err
		}
		return nil, errors.Wrapf(err, "failed to read value at '%v'", path)
	}
	return value, nil
}

func (c *Client) Close() {
	c.conn.Close()
}

func (c *Client) resolvePath(path string) string {
	if c.cfg.Chroot == "" {
		return path
	}
	return strings.TrimSuffix(c.cfg.Chroot, "/") + path
}

// IsNoNode reports whether the given error means that the requested path does not exist. A missing
// node is expected during discovery (e.g. a group that never committed offsets) and must be treated
// as a skippable condition rather than a failure.
func IsNoNode(err error) bool {
	return errors.Cause(err) == zk.ErrNoNode
}

// printfLogger adapts zap to the Printf-style logger the zk library expects.
type printfLogger struct {
	logger *zap.SugaredLogger
}

func (p printfLogger) Printf(format string, args ...interface{}) {
	p.logger.Debugf(format, args...)
}
