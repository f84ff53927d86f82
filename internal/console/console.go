package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/chzyer/readline"

	"flowmap-stream-go/internal/client"
	"flowmap-stream-go/internal/protocol"
	"flowmap-stream-go/internal/store"
)

// Client is the set of client operations the console exposes.
type Client interface {
	Connect(ctx context.Context, host string, port int) error
	Disconnect()
	Status() client.Status
	RequestCurrentFrame() error
	RequestTransformedFrame() error
	RequestStreamStart() error
	RequestStreamStop() error
	SendEditedFrame(image []byte) error
	SendAnnotationPoints(points []protocol.Point) error
	SendWaterJetVectors(vectors []protocol.Vector) error
	ResetImages(class store.ImageClass) error
}

type CommandFunc func(ctx context.Context, args []string) (string, error)

type CommandNode struct {
	Children map[string]*CommandNode
	Name     string
	FullName string
	Func     CommandFunc
	ArgsInfo string
	Desc     string
}

func (node *CommandNode) helpRows() [][]string {
	var rows [][]string
	if node.Func != nil {
		rows = append(rows, []string{strings.TrimSpace(node.FullName), node.ArgsInfo, node.Desc})
	}
	for _, key := range sortedKeys(node.Children) {
		rows = append(rows, node.Children[key].helpRows()...)
	}
	return rows
}

type Console struct {
	root   *CommandNode
	client Client

	host string
	port int

	outMu sync.Mutex
	out   io.Writer

	readFile func(string) ([]byte, error)
}

// New builds a console bound to c. host and port are used by a bare
// "connect".
func New(c Client, out io.Writer, host string, port int) *Console {
	con := &Console{
		root:     &CommandNode{Children: make(map[string]*CommandNode)},
		client:   c,
		host:     host,
		port:     port,
		out:      out,
		readFile: os.ReadFile,
	}
	con.registerDefaults()
	return con
}

func (c *Console) Register(path []string, fn CommandFunc, argsInfo, desc string) {
	current := c.root
	for _, key := range path {
		lower := strings.ToLower(key)
		if current.Children[lower] == nil {
			current.Children[lower] = &CommandNode{
				Children: make(map[string]*CommandNode),
				Name:     key,
				FullName: current.FullName + " " + key,
			}
		}
		current = current.Children[lower]
	}
	current.Func = fn
	current.ArgsInfo = argsInfo
	current.Desc = desc
}

func (c *Console) find(line string) ([]string, *CommandNode) {
	node := c.root
	args := strings.Fields(line)
	for len(node.Children) > 0 && len(args) > 0 {
		next, ok := node.Children[strings.ToLower(args[0])]
		if !ok {
			break
		}
		node = next
		args = args[1:]
	}
	return args, node
}

// Execute runs one input line and reports whether the console should exit.
func (c *Console) Execute(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	switch strings.ToLower(line) {
	case "quit", "exit":
		return true
	case "help":
		c.Print(c.Help())
		return false
	}

	args, node := c.find(line)
	if node == c.root {
		c.Printf("unknown command: %s\n", line)
		return false
	}
	if node.Func == nil {
		c.Print(helpTable(node.helpRows()))
		return false
	}
	result, err := node.Func(ctx, args)
	if err != nil {
		c.Printf("error: %v\n", err)
		return false
	}
	if result != "" {
		c.Print(result + "\n")
	}
	return false
}

func (c *Console) Help() string {
	rows := append([][]string{{"Command", "Args", "Desc"}}, c.root.helpRows()...)
	rows = append(rows, []string{"help", "", "show this table"}, []string{"quit", "", "leave the console"})
	return helpTable(rows)
}

func (c *Console) Completer() *readline.PrefixCompleter {
	items := buildCompleter(c.root)
	items = append(items, readline.PcItem("help"), readline.PcItem("quit"))
	return readline.NewPrefixCompleter(items...)
}

func buildCompleter(node *CommandNode) []readline.PrefixCompleterInterface {
	items := make([]readline.PrefixCompleterInterface, 0, len(node.Children))
	for _, key := range sortedKeys(node.Children) {
		child := node.Children[key]
		items = append(items, readline.PcItem(child.Name, buildCompleter(child)...))
	}
	return items
}

// Run reads commands until quit, EOF, interrupt or ctx cancellation.
func (c *Console) Run(ctx context.Context, historyFile string) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "\033[32m»\033[0m ",
		AutoComplete:    c.Completer(),
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return fmt.Errorf("readline: %w", err)
	}
	defer rl.Close()

	c.outMu.Lock()
	c.out = rl.Stdout()
	c.outMu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = rl.Close() })
	defer stop()

	c.Print("Enter 'help' for commands, 'quit' to exit, Tab to complete\n")
	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if c.Execute(ctx, line) {
			return nil
		}
	}
}

// Notify prints a client event; it is meant to be subscribed as a listener.
func (c *Console) Notify(ev client.Event) {
	switch ev.Kind {
	case client.EventConnectionChanged:
		if ev.Connected {
			c.Printf("connected to %s (session %s)\n", ev.Address, ev.Session)
		} else {
			c.Printf("disconnected from %s: %s\n", ev.Address, ev.Reason)
		}
	case client.EventConnectFailed:
		c.Printf("connect to %s failed: %v\n", ev.Address, ev.Err)
	case client.EventImageReceived:
		if ev.Image != nil {
			c.Printf("%s #%d %dx%d %s\n", ev.Class, ev.Sequence, ev.Image.Width, ev.Image.Height, ev.Image.Format)
		}
	}
}

func (c *Console) Print(s string) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, _ = io.WriteString(c.out, s)
}

func (c *Console) Printf(format string, args ...any) {
	c.Print(fmt.Sprintf(format, args...))
}

func (c *Console) registerDefaults() {
	c.Register([]string{"connect"}, c.cmdConnect, "[host] [port]", "connect to the image server")
	c.Register([]string{"disconnect"}, func(context.Context, []string) (string, error) {
		c.client.Disconnect()
		return "", nil
	}, "", "close the connection")
	c.Register([]string{"status"}, c.cmdStatus, "", "connection and image state")
	c.Register([]string{"frame"}, noArgs(c.client.RequestCurrentFrame), "", "request the current frame")
	c.Register([]string{"transformed"}, noArgs(c.client.RequestTransformedFrame), "", "request the transformed frame")
	c.Register([]string{"stream", "start"}, noArgs(c.client.RequestStreamStart), "", "start flow-map streaming")
	c.Register([]string{"stream", "stop"}, noArgs(c.client.RequestStreamStop), "", "stop flow-map streaming")
	c.Register([]string{"points"}, c.cmdPoints, "x,y [x,y ...]", "send annotation points")
	c.Register([]string{"jets"}, c.cmdJets, "sx,sy,ex,ey [...]", "send water-jet vectors")
	c.Register([]string{"send"}, c.cmdSend, "<file>", "send an edited frame image")
	c.Register([]string{"reset"}, c.cmdReset, "<class>", "drop the stored images of a class")
}

func noArgs(fn func() error) CommandFunc {
	return func(context.Context, []string) (string, error) {
		return "", fn()
	}
}

func (c *Console) cmdConnect(ctx context.Context, args []string) (string, error) {
	host, port := c.host, c.port
	if len(args) > 0 {
		host = args[0]
	}
	if len(args) > 1 {
		p, err := strconv.Atoi(args[1])
		if err != nil || p <= 0 || p > 65535 {
			return "", fmt.Errorf("invalid port %q", args[1])
		}
		port = p
	}
	return "", c.client.Connect(ctx, host, port)
}

func (c *Console) cmdStatus(context.Context, []string) (string, error) {
	st := c.client.Status()
	var b strings.Builder
	if st.Connected {
		fmt.Fprintf(&b, "connected to %s since %s (session %s, profile %s)\n",
			st.Address, st.ConnectedAt.Format("15:04:05"), st.Session, st.Profile)
	} else {
		fmt.Fprintf(&b, "not connected (profile %s)\n", st.Profile)
	}
	for _, name := range sortedKeys(st.Images) {
		img := st.Images[name]
		fmt.Fprintf(&b, "  %-18s deposits=%d first=%t blend=%.2f", name, img.Deposits, img.IsFirstImage, img.BlendProgress)
		if img.Width > 0 {
			fmt.Fprintf(&b, " size=%dx%d", img.Width, img.Height)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (c *Console) cmdPoints(_ context.Context, args []string) (string, error) {
	points, err := protocol.ParsePoints([]byte(strings.Join(args, ";")))
	if err != nil {
		return "", err
	}
	if len(points) == 0 {
		return "", errors.New("no points given")
	}
	if err := c.client.SendAnnotationPoints(points); err != nil {
		return "", err
	}
	return fmt.Sprintf("sent %d points", len(points)), nil
}

func (c *Console) cmdJets(_ context.Context, args []string) (string, error) {
	vectors, err := protocol.ParseVectors([]byte(strings.Join(args, ";")))
	if err != nil {
		return "", err
	}
	if len(vectors) == 0 {
		return "", errors.New("no vectors given")
	}
	if err := c.client.SendWaterJetVectors(vectors); err != nil {
		return "", err
	}
	return fmt.Sprintf("sent %d vectors", len(vectors)), nil
}

func (c *Console) cmdSend(_ context.Context, args []string) (string, error) {
	if len(args) != 1 {
		return "", errors.New("usage: send <file>")
	}
	data, err := c.readFile(args[0])
	if err != nil {
		return "", err
	}
	if err := c.client.SendEditedFrame(data); err != nil {
		return "", err
	}
	return fmt.Sprintf("sent %d bytes", len(data)), nil
}

func (c *Console) cmdReset(_ context.Context, args []string) (string, error) {
	if len(args) != 1 {
		return "", errors.New("usage: reset <class>")
	}
	class, err := store.ParseClass(args[0])
	if err != nil {
		return "", err
	}
	if err := c.client.ResetImages(class); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s reset", class), nil
}

func helpTable(table [][]string) string {
	width := [3]int{}
	for _, row := range table {
		for i := 0; i < 3 && i < len(row); i++ {
			if l := utf8.RuneCountInString(row[i]); l > width[i] {
				width[i] = l
			}
		}
	}
	format := fmt.Sprintf("%%-%ds  %%-%ds  %%s\n", width[0], width[1])
	var b strings.Builder
	for _, row := range table {
		cells := [3]string{}
		copy(cells[:], row)
		fmt.Fprintf(&b, format, cells[0], cells[1], cells[2])
	}
	return b.String()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
