// Package server exposes one probed device over HTTP. The API mirrors
// what the command line offers, so a browser or a script can read
// registers, translate addresses, and decode rings against the same
// device model, plus a few endpoints for watching the probe process
// itself.
package server

import (
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"

	// Enable profiling
	_ "net/http/pprof"

	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"github.com/sarchlab/gpuprobe/amdgpu"
	"github.com/sarchlab/gpuprobe/regdb"
	"github.com/sarchlab/gpuprobe/ring"
	"github.com/sarchlab/gpuprobe/userq"
	"github.com/sarchlab/gpuprobe/vm"
)

// Server serves one device model. Everything it reports comes through
// the registered register file and VM accessor, so it works the same
// against live MMIO and against a harness-loaded snapshot.
type Server struct {
	asic  *amdgpu.Asic
	regs  *regdb.Accessor
	acc   *vm.Accessor
	rings *ring.RingReader

	queues []userq.Queue

	objects     map[string]any
	objectNames []string

	portNumber  int
	openBrowser bool
}

// NewServer creates a server with no device attached.
func NewServer() *Server {
	return &Server{objects: make(map[string]any)}
}

// WithPortNumber sets the port number of the server.
func (s *Server) WithPortNumber(portNumber int) *Server {
	if portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the probe server, "+
				"which is not allowed. Using a random port instead.\n", portNumber)
		portNumber = 0
	}

	s.portNumber = portNumber

	return s
}

// WithBrowser opens the served URL in the default browser once the
// server is listening.
func (s *Server) WithBrowser() *Server {
	s.openBrowser = true
	return s
}

// RegisterDevice attaches the device to serve: its static description,
// its register file, and the VM accessor over its memories. The walker
// and accessor become inspectable through the state API.
func (s *Server) RegisterDevice(
	a *amdgpu.Asic,
	regs *regdb.Accessor,
	acc *vm.Accessor,
) {
	s.asic = a
	s.regs = regs
	s.acc = acc
	s.rings = ring.NewRingReader(acc, regs)

	s.RegisterObject("walker", acc.Walker())
	s.RegisterObject("accessor", acc)
}

// RegisterQueues attaches the user-queue list served by the queue API.
func (s *Server) RegisterQueues(queues []userq.Queue) {
	s.queues = queues
}

// RegisterObject makes one live object inspectable through the state
// API under the given name.
func (s *Server) RegisterObject(name string, obj any) {
	if _, ok := s.objects[name]; !ok {
		s.objectNames = append(s.objectNames, name)
	}

	s.objects[name] = obj
}

// StartServer starts the probe as a web server with a custom port if
// wanted.
func (s *Server) StartServer() {
	r := s.router()
	http.Handle("/", r)

	actualPort := ":0"
	if s.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(s.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	dieOnErr(err)

	url := fmt.Sprintf("http://localhost:%d",
		listener.Addr().(*net.TCPAddr).Port)
	fmt.Fprintf(os.Stderr, "Probing %s with %s\n", s.asic.Name(), url)

	if s.openBrowser {
		err := browser.OpenURL(url)
		dieOnErr(err)
	}

	go func() {
		err = http.Serve(listener, nil)
		dieOnErr(err)
	}()
}

func (s *Server) router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/asic", s.describeAsic)
	r.HandleFunc("/api/regs/{ip}/{inst}/{name}", s.readRegister)
	r.HandleFunc("/api/vm/read", s.readMemory)
	r.HandleFunc("/api/vm/walk", s.walkAddress)
	r.HandleFunc("/api/ring/{name}", s.decodeRing)
	r.HandleFunc("/api/userq", s.listQueues)
	r.HandleFunc("/api/resource", s.listResources)
	r.HandleFunc("/api/profile", s.flattenProfile)
	r.HandleFunc("/api/state", s.listObjects)
	r.HandleFunc("/api/state/{name}", s.describeObject)
	r.HandleFunc("/", s.index)

	return r
}

func (s *Server) index(w http.ResponseWriter, _ *http.Request) {
	fmt.Fprintf(w, "gpuprobe serving %s\n", s.asic.Name())
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}
