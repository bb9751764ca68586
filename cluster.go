package webserv

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// conn is one accepted client connection. It is owned exclusively by the
// cluster and lives until its fd is closed, which is always paired with
// removal from the readiness set.
type conn struct {
	fd   int
	addr Socket
	buf  []byte
}

// cluster owns the readiness set, the listening sockets and the
// per-connection buffers. All of its state is mutated only on the event
// loop's thread.
type cluster struct {
	w *Webserv

	epfd       int
	wakeR      int
	wakeW      int
	maxClients int
	listeners  map[int]Socket
	conns      map[int]*conn
}

// newCluster returns a new instance of the `cluster` with the w.
func newCluster(w *Webserv) *cluster {
	return &cluster{
		w:         w,
		epfd:      -1,
		wakeR:     -1,
		wakeW:     -1,
		listeners: map[int]Socket{},
		conns:     map[int]*conn{},
	}
}

// setup creates the epoll instance and binds one listening socket per
// deduplicated endpoint of the server set.
func (c *cluster) setup() error {
	c.maxClients = readMaxClients()

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return fmt.Errorf("webserv: failed to create epoll instance: %v", err)
	}

	c.epfd = epfd

	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return fmt.Errorf("webserv: failed to create wake pipe: %v", err)
	}

	c.wakeR, c.wakeW = p[0], p[1]
	if err := c.epollAdd(c.wakeR, unix.EPOLLIN); err != nil {
		return err
	}

	for _, s := range dedupListenSockets(c.w.Servers) {
		fd, err := listenSocket(s)
		if err != nil {
			return err
		}

		if err := c.epollAdd(fd, unix.EPOLLIN); err != nil {
			unix.Close(fd)
			return err
		}

		c.listeners[fd] = s
	}

	return nil
}

// listenSocket creates, binds and listens a TCP socket on the s.
func listenSocket(s Socket) (int, error) {
	fd, err := unix.Socket(
		unix.AF_INET,
		unix.SOCK_STREAM|unix.SOCK_CLOEXEC,
		0,
	)
	if err != nil {
		return -1, fmt.Errorf("webserv: failed to create socket: %v", err)
	}

	if err := unix.SetsockoptInt(
		fd,
		unix.SOL_SOCKET,
		unix.SO_REUSEADDR,
		1,
	); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf(
			"webserv: failed to set socket options: %v",
			err,
		)
	}

	ip, err := bindIP(s.IP)
	if err != nil {
		unix.Close(fd)
		return -1, err
	}

	port, err := strconv.Atoi(s.Port)
	if err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("webserv: invalid listen port: %s", s.Port)
	}

	sa := &unix.SockaddrInet4{Port: port}
	copy(sa.Addr[:], ip)
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf(
			"webserv: failed to bind socket to %s: %v",
			s,
			err,
		)
	}

	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf(
			"webserv: failed to listen on %s: %v",
			s,
			err,
		)
	}

	return fd, nil
}

// bindIP resolves the configured listen IP into 4 bytes. The empty IP and
// "0.0.0.0" bind all interfaces; "localhost" binds the loopback.
func bindIP(s string) ([]byte, error) {
	switch s {
	case "", "0.0.0.0":
		return []byte{0, 0, 0, 0}, nil
	case "localhost":
		return []byte{127, 0, 0, 1}, nil
	}

	ip := net.ParseIP(s)
	if ip = ip.To4(); ip == nil {
		return nil, fmt.Errorf("webserv: invalid listen ip: %s", s)
	}

	return ip, nil
}

// readMaxClients discovers the readiness set capacity from the system file,
// falling back to the default when the file is unreadable.
func readMaxClients() int {
	b, err := os.ReadFile(maxClientsPath)
	if err != nil {
		return defaultMaxClients
	}

	n, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || n <= 0 {
		return defaultMaxClients
	}

	return n
}

// epollAdd registers the fd for the events in the readiness set.
func (c *cluster) epollAdd(fd int, events uint32) error {
	ee := unix.EpollEvent{
		Events: events,
		Fd:     int32(fd),
	}
	if err := unix.EpollCtl(c.epfd, unix.EPOLL_CTL_ADD, fd, &ee); err != nil {
		return fmt.Errorf(
			"webserv: failed to add fd %d to epoll instance: %v",
			fd,
			err,
		)
	}

	return nil
}

// run blocks on the readiness set and serves events until the running flag
// is cleared. Transient errors are logged and never escape the loop.
func (c *cluster) run() error {
	events := make([]unix.EpollEvent, c.maxClients)
	for c.w.running.Load() {
		n, err := unix.EpollWait(c.epfd, events, -1)
		if err == unix.EINTR {
			continue
		} else if err != nil {
			c.w.logger.ERROR(
				"webserv: epoll wait failed",
				map[string]interface{}{"error": err.Error()},
			)
			continue
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			if fd == c.wakeR {
				drainWakePipe(fd)
				continue
			}

			if events[i].Events&unix.EPOLLERR != 0 {
				c.killConnection(fd)
				continue
			}

			if _, ok := c.listeners[fd]; ok {
				c.setupConnection(fd)
			} else if events[i].Events&unix.EPOLLIN != 0 {
				c.handleRead(fd)
			}
		}
	}

	return nil
}

// wake interrupts a blocking readiness wait.
func (c *cluster) wake() {
	if c.wakeW >= 0 {
		unix.Write(c.wakeW, []byte{0})
	}
}

// drainWakePipe empties the wake pipe's read end.
func drainWakePipe(fd int) {
	b := make([]byte, 16)
	for {
		if n, err := unix.Read(fd, b); n <= 0 || err != nil {
			return
		}
	}
}

// setupConnection accepts one client on the listening fd, switches it to
// non-blocking mode and registers it edge-triggered in the readiness set.
func (c *cluster) setupConnection(fd int) {
	clientFd, _, err := unix.Accept(fd)
	if err != nil {
		c.w.logger.ERROR(
			"webserv: failed to accept connection",
			map[string]interface{}{"error": err.Error()},
		)
		return
	}

	if err := unix.SetNonblock(clientFd, true); err != nil {
		unix.Close(clientFd)
		return
	}

	ee := unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLOUT | unix.EPOLLET,
		Fd:     int32(clientFd),
	}
	if err := unix.EpollCtl(
		c.epfd,
		unix.EPOLL_CTL_ADD,
		clientFd,
		&ee,
	); err != nil {
		unix.Close(clientFd)
		c.w.logger.ERROR(
			"webserv: failed to add client to epoll instance",
			map[string]interface{}{"error": err.Error()},
		)
		return
	}

	c.conns[clientFd] = &conn{
		fd:   clientFd,
		addr: localAddr(clientFd, c.listeners[fd]),
	}
}

// localAddr returns the local address of the fd, falling back to the
// listener's bound socket.
func localAddr(fd int, fallback Socket) Socket {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return fallback
	}

	sa4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return fallback
	}

	return Socket{
		IP: net.IPv4(
			sa4.Addr[0],
			sa4.Addr[1],
			sa4.Addr[2],
			sa4.Addr[3],
		).String(),
		Port: strconv.Itoa(sa4.Port),
	}
}

// handleRead reads up to one buffer of bytes from the client and decides
// whether the accumulated request is complete enough to process.
func (c *cluster) handleRead(fd int) {
	cn, ok := c.conns[fd]
	if !ok {
		c.killConnection(fd)
		return
	}

	buf := make([]byte, readBufferSize)
	n, err := unix.Read(fd, buf)
	if err == unix.EAGAIN {
		return
	} else if err != nil || n < 0 {
		c.killConnection(fd)
		return
	} else if n == 0 {
		if len(cn.buf) > 0 {
			c.process(cn)
		}

		c.killConnection(fd)
		return
	}

	cn.buf = append(cn.buf, buf[:n]...)
	if requestComplete(cn.buf) {
		c.process(cn)
		cn.buf = nil
		c.killConnection(fd)
		return
	}

	// Re-arm the edge-triggered registration so the remainder of the
	// request triggers another readable event.
	ee := unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLOUT | unix.EPOLLET | unix.EPOLLHUP,
		Fd:     int32(fd),
	}
	if err := unix.EpollCtl(c.epfd, unix.EPOLL_CTL_MOD, fd, &ee); err != nil {
		c.killConnection(fd)
	}
}

// requestComplete reports whether the buf frames a whole request: the header
// terminator is present and the announced body, if any, has fully arrived.
// The predicate is monotone over buffer extensions.
func requestComplete(buf []byte) bool {
	s := string(buf)
	i := strings.Index(s, "\r\n\r\n")
	if i < 0 {
		return false
	}

	headers := s[:i]
	if n, ok := contentLength(headers); ok {
		return int64(len(s)-i-4) >= n
	}

	if hasChunkedEncoding(headers) {
		return strings.Contains(s, "0\r\n\r\n")
	}

	return true
}

// contentLength extracts the Content-Length value announced in the headers.
func contentLength(headers string) (int64, bool) {
	for _, line := range strings.Split(headers, "\r\n") {
		i := strings.IndexByte(line, ':')
		if i < 0 {
			continue
		}

		if !strings.EqualFold(line[:i], "Content-Length") {
			continue
		}

		n, err := strconv.ParseInt(
			strings.TrimSpace(line[i+1:]),
			10,
			64,
		)
		if err != nil || n < 0 {
			return 0, false
		}

		return n, true
	}

	return 0, false
}

// hasChunkedEncoding reports whether the headers announce a chunked
// transfer.
func hasChunkedEncoding(headers string) bool {
	for _, line := range strings.Split(headers, "\r\n") {
		i := strings.IndexByte(line, ':')
		if i < 0 {
			continue
		}

		if !strings.EqualFold(line[:i], "Transfer-Encoding") {
			continue
		}

		if strings.Contains(
			strings.ToLower(line[i+1:]),
			"chunked",
		) {
			return true
		}
	}

	return false
}

// process parses the buffered request, resolves its virtual server,
// dispatches the matching pipeline and writes the response. The connection
// is closed by the caller afterwards; there is no keep-alive.
func (c *cluster) process(cn *conn) {
	req, status := parseRequest(cn.buf)

	server, err := resolveServer(c.w.Servers, cn.addr, req.Host())
	if err != nil {
		c.w.logger.ERROR(
			"webserv: no server for connection",
			map[string]interface{}{
				"addr":  cn.addr.String(),
				"error": err.Error(),
			},
		)
		return
	}

	out := c.w.respond(server, req, status, cn.fd)
	if _, err := unix.Write(cn.fd, out); err != nil {
		c.w.logger.ERROR(
			"webserv: failed to write response",
			map[string]interface{}{"error": err.Error()},
		)
	}
}

// killConnection closes the fd and removes it from the readiness set and
// the buffer map.
func (c *cluster) killConnection(fd int) {
	if err := unix.EpollCtl(
		c.epfd,
		unix.EPOLL_CTL_DEL,
		fd,
		nil,
	); err != nil {
		c.w.logger.ERROR(
			"webserv: failed to remove fd from epoll instance",
			map[string]interface{}{"fd": fd, "error": err.Error()},
		)
	}

	unix.Close(fd)
	delete(c.conns, fd)
}

// close releases every fd the cluster owns.
func (c *cluster) close() {
	for fd := range c.conns {
		c.killConnection(fd)
	}

	for fd := range c.listeners {
		unix.Close(fd)
		delete(c.listeners, fd)
	}

	if c.wakeR >= 0 {
		unix.Close(c.wakeR)
		unix.Close(c.wakeW)
		c.wakeR, c.wakeW = -1, -1
	}

	if c.epfd >= 0 {
		unix.Close(c.epfd)
		c.epfd = -1
	}
}
