package connection

import (
	"bufio"
	"net"
	"testing"
	"time"

	"flutserver/internal/canvas"
)

func newTestCanvases(t *testing.T) Canvases {
	t.Helper()
	cv, err := canvas.New(0, 800, 600)
	if err != nil {
		t.Fatalf("canvas.New: %v", err)
	}
	return Canvases{0: cv}
}

func serveOnPipe(t *testing.T, canvases Canvases, counters *Counters) net.Conn {
	t.Helper()
	server, client := net.Pipe()
	h := New(server, canvases, counters, Config{})
	go h.Serve()
	return client
}

func readLine(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	client := make(chan string, 1)
	errc := make(chan error, 1)
	go func() {
		line, err := r.ReadString('\n')
		if err != nil {
			errc <- err
			return
		}
		client <- line
	}()
	select {
	case line := <-client:
		return line
	case err := <-errc:
		t.Fatalf("ReadString: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for a reply line")
	}
	return ""
}

func TestScenarioS1_Size(t *testing.T) {
	client := serveOnPipe(t, newTestCanvases(t), &Counters{})
	defer client.Close()
	r := bufio.NewReader(client)

	if _, err := client.Write([]byte("SIZE\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	line := readLine(t, r)
	if line != "SIZE 800 600\n" {
		t.Fatalf("got %q, want %q", line, "SIZE 800 600\n")
	}
}

func TestScenarioS2_SetThenGet(t *testing.T) {
	client := serveOnPipe(t, newTestCanvases(t), &Counters{})
	defer client.Close()
	r := bufio.NewReader(client)

	if _, err := client.Write([]byte("PX 10 20 ff8800\nPX 10 20\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	line := readLine(t, r)
	if line != "PX 10 20 ff8800\n" {
		t.Fatalf("got %q, want %q", line, "PX 10 20 ff8800\n")
	}
}

func TestScenarioS3_Gray(t *testing.T) {
	client := serveOnPipe(t, newTestCanvases(t), &Counters{})
	defer client.Close()
	r := bufio.NewReader(client)

	if _, err := client.Write([]byte("PX 10 20 80\nPX 10 20\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	line := readLine(t, r)
	if line != "PX 10 20 808080\n" {
		t.Fatalf("got %q, want %q", line, "PX 10 20 808080\n")
	}
}

func TestScenarioS4_BlendRounding(t *testing.T) {
	client := serveOnPipe(t, newTestCanvases(t), &Counters{})
	defer client.Close()
	r := bufio.NewReader(client)

	msg := "PX 10 20 000000\nPX 10 20 ffffff80\nPX 10 20\n"
	if _, err := client.Write([]byte(msg)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	line := readLine(t, r)
	if line != "PX 10 20 808080\n" {
		t.Fatalf("got %q, want %q", line, "PX 10 20 808080\n")
	}
}

func TestScenarioS6_ProtocolSwitchThenBinarySize(t *testing.T) {
	client := serveOnPipe(t, newTestCanvases(t), &Counters{})
	defer client.Close()

	if _, err := client.Write([]byte("PROTOCOL binary\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := client.Write([]byte{0x73, 0x00}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	reply := make([]byte, 4)
	if _, err := readFull(client, reply); err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if reply[0] != 0x20 || reply[1] != 0x03 || reply[2] != 0x58 || reply[3] != 0x02 {
		t.Fatalf("got % x, want width=800 height=600 little-endian", reply)
	}
}

func TestScenarioS7_OutOfBoundsKeepsConnectionOpen(t *testing.T) {
	client := serveOnPipe(t, newTestCanvases(t), &Counters{})
	defer client.Close()
	r := bufio.NewReader(client)

	if _, err := client.Write([]byte("PX 99999 0 000000\nSIZE\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	errLine := readLine(t, r)
	if len(errLine) == 0 || errLine[0:3] != "ERR" {
		t.Fatalf("got %q, want an ERR line", errLine)
	}
	sizeLine := readLine(t, r)
	if sizeLine != "SIZE 800 600\n" {
		t.Fatalf("connection did not survive to answer the next command: %q", sizeLine)
	}
}

func TestBinaryParseErrorClosesConnection(t *testing.T) {
	client := serveOnPipe(t, newTestCanvases(t), &Counters{})
	defer client.Close()

	if _, err := client.Write([]byte("PROTOCOL binary\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := client.Write([]byte{0xEE, 0x00, 0x00, 0x00}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	buf := make([]byte, 1)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := client.Read(buf); err == nil {
		t.Fatalf("expected the connection to be closed after an unknown binary opcode")
	}
}

func TestNoSuchCanvasTextReplyThenContinues(t *testing.T) {
	client := serveOnPipe(t, newTestCanvases(t), &Counters{})
	defer client.Close()
	r := bufio.NewReader(client)

	if _, err := client.Write([]byte("CANVAS 9\nSIZE\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	errLine := readLine(t, r)
	if len(errLine) < 3 || errLine[0:3] != "ERR" {
		t.Fatalf("got %q, want an ERR line for unknown canvas", errLine)
	}
	sizeLine := readLine(t, r)
	if sizeLine != "SIZE 800 600\n" {
		t.Fatalf("got %q", sizeLine)
	}
}

func TestPixelWriteCounterIncrements(t *testing.T) {
	counters := &Counters{}
	client := serveOnPipe(t, newTestCanvases(t), counters)
	defer client.Close()
	r := bufio.NewReader(client)

	if _, err := client.Write([]byte("PX 1 1 112233\nPX 1 1\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	_ = readLine(t, r)

	if got := counters.PixelWrites(); got != 1 {
		t.Fatalf("PixelWrites()=%d, want 1", got)
	}
}

func readFull(r net.Conn, buf []byte) (int, error) {
	total := 0
	r.SetReadDeadline(time.Now().Add(2 * time.Second))
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
