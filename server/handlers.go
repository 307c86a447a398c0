package server

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"

	"github.com/sarchlab/gpuprobe/amdgpu"
	"github.com/sarchlab/gpuprobe/ring"
	"github.com/sarchlab/gpuprobe/vm"
)

type ipBlockRsp struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Instances int    `json:"instances"`
}

type xgmiRsp struct {
	NodeID   int    `json:"node_id"`
	NumNodes int    `json:"num_nodes"`
	SegSize  uint64 `json:"seg_size"`
}

type asicRsp struct {
	Name       string       `json:"name"`
	GFXVersion string       `json:"gfx_version"`
	VRAMSize   uint64       `json:"vram_size"`
	APU        bool         `json:"apu"`
	XGMI       *xgmiRsp     `json:"xgmi,omitempty"`
	Blocks     []ipBlockRsp `json:"blocks"`
}

func (s *Server) describeAsic(w http.ResponseWriter, _ *http.Request) {
	rsp := asicRsp{
		Name:       s.asic.Name(),
		GFXVersion: s.asic.GFXVersion().String(),
		VRAMSize:   s.asic.VRAMSize(),
		APU:        s.asic.IsAPU(),
	}

	for _, b := range s.asic.Blocks() {
		rsp.Blocks = append(rsp.Blocks, ipBlockRsp{
			Name:      b.Name,
			Version:   b.Version.String(),
			Instances: b.Instances,
		})
	}

	if x := s.asic.XGMI(); x.Enabled() {
		rsp.XGMI = &xgmiRsp{
			NodeID:   x.NodeID,
			NumNodes: x.NumNodes,
			SegSize:  x.SegSize,
		}
	}

	writeJSON(w, rsp)
}

type registerRsp struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func (s *Server) readRegister(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	inst, err := strconv.Atoi(vars["inst"])
	if err != nil {
		http.Error(w, "bad instance "+vars["inst"], http.StatusBadRequest)
		return
	}

	ip := vars["ip"]
	name := vars["name"]

	if field := r.URL.Query().Get("field"); field != "" {
		value, err := s.regs.ReadField(ip, inst, name, field)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}

		writeJSON(w, registerRsp{
			Name:  fmt.Sprintf("%s.%d.%s.%s", ip, inst, name, field),
			Value: fmt.Sprintf("0x%x", value),
		})

		return
	}

	value, err := s.regs.Read(ip, inst, name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	writeJSON(w, registerRsp{
		Name:  fmt.Sprintf("%s.%d.%s", ip, inst, name),
		Value: fmt.Sprintf("0x%08x", value),
	})
}

type memoryRsp struct {
	VA   string `json:"va"`
	Data string `json:"data"`
}

func (s *Server) readMemory(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	n, err := sizeFromQuery(r, 256)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	body, err := s.acc.ReadVM(scope.Hub, scope.VMID, scope.Partition, scope.VA, n)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, memoryRsp{
		VA:   fmt.Sprintf("0x%x", scope.VA),
		Data: hex.EncodeToString(body),
	})
}

type walkRsp struct {
	GFXOff    bool          `json:"gfxoff"`
	Pages     []pageRsp     `json:"pages"`
	Registers []registerRsp `json:"registers,omitempty"`
	Levels    []levelRsp    `json:"levels,omitempty"`
	Messages  []messageRsp  `json:"messages,omitempty"`
}

type pageRsp struct {
	VA       string `json:"va"`
	Span     uint64 `json:"span"`
	Loc      string `json:"loc,omitempty"`
	Flags    string `json:"flags,omitempty"`
	PRT      bool   `json:"prt,omitempty"`
	Unmapped bool   `json:"unmapped,omitempty"`
}

type levelRsp struct {
	Level     int    `json:"level"`
	Index     uint64 `json:"index"`
	EntryAddr string `json:"entry_addr"`
	Raw       string `json:"raw"`
	Decoded   string `json:"decoded"`
}

type messageRsp struct {
	Severity string `json:"severity"`
	Class    string `json:"class"`
	Text     string `json:"text"`
}

func (s *Server) walkAddress(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	n, err := sizeFromQuery(r, 4096)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := s.acc.DecodeVM(vm.WalkRequest{
		Hub: scope.Hub, VMID: scope.VMID, Partition: scope.Partition,
		VA: scope.VA, Size: n,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, walkRspFrom(res))
}

func walkRspFrom(res vm.WalkResult) walkRsp {
	rsp := walkRsp{GFXOff: res.GFXOff}

	for _, p := range res.Pages {
		pr := pageRsp{
			VA:       fmt.Sprintf("0x%x", p.VA),
			Span:     p.Span,
			PRT:      p.PRT,
			Unmapped: p.Unmapped,
		}
		if !p.Unmapped {
			pr.Loc = p.Loc.String()
			pr.Flags = p.Flags.String()
		}
		rsp.Pages = append(rsp.Pages, pr)
	}

	if res.Capture == nil {
		return rsp
	}

	for _, ev := range res.Capture.Registers {
		rsp.Registers = append(rsp.Registers, registerRsp{
			Name:  ev.Name,
			Value: fmt.Sprintf("0x%x", ev.Value),
		})
	}

	for _, ev := range res.Capture.Levels {
		l := levelRsp{
			Level:     ev.Level,
			Index:     ev.Index,
			EntryAddr: fmt.Sprintf("0x%x", ev.EntryAddr),
			Raw:       fmt.Sprintf("0x%016x", ev.Raw),
		}
		switch {
		case ev.PDE != nil:
			l.Decoded = ev.PDE.String()
		case ev.PTE != nil:
			l.Decoded = ev.PTE.String()
		}
		rsp.Levels = append(rsp.Levels, l)
	}

	for _, ev := range res.Capture.Messages {
		rsp.Messages = append(rsp.Messages, messageRsp{
			Severity: ev.Severity.String(),
			Class:    ev.Class.String(),
			Text:     ev.Text,
		})
	}

	return rsp
}

type ringRsp struct {
	Name    string      `json:"name"`
	Base    string      `json:"base"`
	Size    uint64      `json:"size"`
	Rptr    uint64      `json:"rptr"`
	Wptr    uint64      `json:"wptr"`
	Pending uint64      `json:"pending"`
	Packets []packetRsp `json:"packets"`
}

type packetRsp struct {
	Offset string     `json:"offset"`
	Name   string     `json:"name"`
	Opcode uint32     `json:"opcode"`
	Words  int        `json:"words"`
	Fields []fieldRsp `json:"fields,omitempty"`
	Shader string     `json:"shader,omitempty"`
	IB     *ibRsp     `json:"ib,omitempty"`
	Error  string     `json:"error,omitempty"`
}

type fieldRsp struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type ibRsp struct {
	VA      string      `json:"va"`
	Size    uint64      `json:"size"`
	VMID    int         `json:"vmid"`
	Packets []packetRsp `json:"packets,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func (s *Server) decodeRing(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	rng, err := s.rings.KernelRing(name)
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		_, err = w.Write([]byte(err.Error()))
		dieOnErr(err)
		return
	}

	data, from, err := s.rings.Window(rng)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	pkts, err := s.ringDecoder(rng).Decode(data, from)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, ringRsp{
		Name:    rng.Name,
		Base:    fmt.Sprintf("0x%x", rng.Base),
		Size:    rng.Size,
		Rptr:    rng.Rptr,
		Wptr:    rng.Wptr,
		Pending: rng.Pending(),
		Packets: packetsRsp(pkts),
	})
}

func (s *Server) ringDecoder(rng ring.Ring) ring.Decoder {
	if strings.HasPrefix(rng.Name, "sdma") {
		return ring.NewSDMADecoder(s.acc, rng.Hub, rng.VMID)
	}
	return ring.NewPM4Decoder(s.acc, rng.Hub, rng.VMID)
}

func packetsRsp(pkts []ring.Packet) []packetRsp {
	out := make([]packetRsp, 0, len(pkts))

	for _, p := range pkts {
		pr := packetRsp{
			Offset: fmt.Sprintf("0x%x", p.Offset),
			Name:   p.Name,
			Opcode: p.Opcode,
			Words:  len(p.Raw),
		}

		for _, f := range p.Fields {
			pr.Fields = append(pr.Fields, fieldRsp{
				Name:  f.Name,
				Value: fmt.Sprintf("0x%x", f.Value),
			})
		}

		if p.Shader != nil {
			pr.Shader = fmt.Sprintf("0x%x", p.Shader.VA)
		}

		if p.IB != nil {
			ib := &ibRsp{
				VA:      fmt.Sprintf("0x%x", p.IB.VA),
				Size:    p.IB.Size,
				VMID:    p.IB.VMID,
				Packets: packetsRsp(p.IB.Packets),
			}
			if p.IB.Err != nil {
				ib.Error = p.IB.Err.Error()
			}
			pr.IB = ib
		}

		if p.Err != nil {
			pr.Error = p.Err.Error()
		}

		out = append(out, pr)
	}

	return out
}

type queueRsp struct {
	ID       int    `json:"id"`
	PID      int    `json:"pid"`
	Process  string `json:"process"`
	Hub      string `json:"hub"`
	Type     string `json:"type"`
	RingBase string `json:"ring_base"`
	RingSize uint64 `json:"ring_size"`
	Doorbell string `json:"doorbell"`
	MQD      string `json:"mqd"`
}

func (s *Server) listQueues(w http.ResponseWriter, _ *http.Request) {
	rsp := make([]queueRsp, 0, len(s.queues))

	for _, q := range s.queues {
		rsp = append(rsp, queueRsp{
			ID:       q.ID,
			PID:      q.PID,
			Process:  q.Process,
			Hub:      q.Hub.String(),
			Type:     q.Type.String(),
			RingBase: fmt.Sprintf("0x%x", q.RingBase),
			RingSize: q.RingSize,
			Doorbell: fmt.Sprintf("0x%x", q.Doorbell),
			MQD:      fmt.Sprintf("0x%x", q.MQDAddr),
		})
	}

	writeJSON(w, rsp)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (s *Server) listResources(w http.ResponseWriter, _ *http.Request) {
	pid := os.Getpid()
	proc, err := process.NewProcess(int32(pid))
	dieOnErr(err)

	cpuPercent, err := proc.CPUPercent()
	dieOnErr(err)

	memorySize, err := proc.MemoryInfo()
	dieOnErr(err)

	rsp := resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memorySize.RSS,
	}

	writeJSON(w, rsp)
}

type profileEntryRsp struct {
	Function string `json:"function"`
	Flat     int64  `json:"flat"`
	Unit     string `json:"unit"`
}

func (s *Server) flattenProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(405)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	prof, err := profile.ParseData(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, flatWeights(prof))
}

// flatWeights sums each sample's value into its leaf function, the flat
// weight pprof's top view reports. The CPU value column is preferred
// when the profile has more than one.
func flatWeights(prof *profile.Profile) []profileEntryRsp {
	if len(prof.SampleType) == 0 {
		return nil
	}

	idx := len(prof.SampleType) - 1
	for i, st := range prof.SampleType {
		if st.Type == "cpu" {
			idx = i
		}
	}

	flat := make(map[string]int64)
	for _, sample := range prof.Sample {
		if len(sample.Location) == 0 || len(sample.Value) <= idx {
			continue
		}

		name := "<unknown>"
		loc := sample.Location[0]
		if len(loc.Line) > 0 && loc.Line[0].Function != nil {
			name = loc.Line[0].Function.Name
		}

		flat[name] += sample.Value[idx]
	}

	entries := make([]profileEntryRsp, 0, len(flat))
	for name, weight := range flat {
		entries = append(entries, profileEntryRsp{
			Function: name,
			Flat:     weight,
			Unit:     prof.SampleType[idx].Unit,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Flat != entries[j].Flat {
			return entries[i].Flat > entries[j].Flat
		}
		return entries[i].Function < entries[j].Function
	})

	return entries
}

func (s *Server) listObjects(w http.ResponseWriter, _ *http.Request) {
	fmt.Fprint(w, "[")
	for i, name := range s.objectNames {
		if i > 0 {
			fmt.Fprint(w, ",")
		}

		fmt.Fprintf(w, "\"%s\"", name)
	}
	fmt.Fprint(w, "]")
}

func (s *Server) describeObject(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	obj := s.findObjectOr404(w, name)
	if obj == nil {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(obj)
	serializer.SetMaxDepth(1)
	err := serializer.Serialize(w)

	dieOnErr(err)
}

func (s *Server) findObjectOr404(w http.ResponseWriter, name string) any {
	obj, ok := s.objects[name]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_, err := w.Write([]byte("Object not found"))
		dieOnErr(err)
		return nil
	}

	return obj
}

func scopeFromQuery(r *http.Request) (vm.Scope, error) {
	q := r.URL.Query()

	scope := vm.Scope{Hub: amdgpu.HubGFX}

	if raw := q.Get("hub"); raw != "" {
		hub, err := amdgpu.ParseHub(raw)
		if err != nil {
			return vm.Scope{}, err
		}
		scope.Hub = hub
	}

	var err error

	if raw := q.Get("vmid"); raw != "" {
		scope.VMID, err = strconv.Atoi(raw)
		if err != nil {
			return vm.Scope{}, fmt.Errorf("bad vmid %q", raw)
		}
	}

	if raw := q.Get("part"); raw != "" {
		scope.Partition, err = strconv.Atoi(raw)
		if err != nil {
			return vm.Scope{}, fmt.Errorf("bad part %q", raw)
		}
	}

	scope.VA, err = strconv.ParseUint(q.Get("va"), 0, 64)
	if err != nil {
		return vm.Scope{}, fmt.Errorf("bad va %q", q.Get("va"))
	}

	return scope, nil
}

func sizeFromQuery(r *http.Request, def uint64) (uint64, error) {
	raw := r.URL.Query().Get("n")
	if raw == "" {
		return def, nil
	}

	n, err := strconv.ParseUint(raw, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("bad n %q", raw)
	}

	return n, nil
}

func writeJSON(w http.ResponseWriter, v any) {
	bytes, err := json.Marshal(v)
	dieOnErr(err)

	_, err = w.Write(bytes)
	dieOnErr(err)
}
