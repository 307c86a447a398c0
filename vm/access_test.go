package vm_test

import (
	"encoding/binary"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/gpuprobe/amdgpu"
	"github.com/sarchlab/gpuprobe/vm"
)

var _ = Describe("Accessor", func() {
	var (
		mockCtrl *gomock.Controller
		regs     *MockRegisterFile
		vram     *MockLinearVRAM
		asic     *amdgpu.Asic
		codec    vm.EntryCodec
	)

	// A depth-0 context over [0, 2 MiB) with the PTB at 0x10000, so a
	// walk fetches exactly one entry before touching payload.
	flatSnap := func() *vm.ContextSnapshot {
		return &vm.ContextSnapshot{
			PageTableBase: codec.EncodePDE(vm.PDEFields{
				Valid: true, BaseAddr: 0x10000,
			}),
			PageTableEnd: 0x1FFFFF,
			Enabled:      true,
			FBTop:        1<<30 - 1,
			AGPTop:       0xFFFFFF,
			ApertureHigh: 0x3FFFF,
		}
	}

	rawBytes := func(raw uint64) []byte {
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, raw)
		return b
	}

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		regs = NewMockRegisterFile(mockCtrl)
		vram = NewMockLinearVRAM(mockCtrl)
		codec = vm.CodecFor(amdgpu.IPVersion{Major: 11})

		asic = amdgpu.MakeBuilder().
			WithIPBlock(amdgpu.IPBlock{
				Name:    "gfx",
				Version: amdgpu.IPVersion{Major: 11},
			}).
			WithVRAMSize(1 << 30).
			Build("mock-gpu")
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("classes register failures", func() {
		regs.EXPECT().
			Read64("gfx", 0,
				"mmVM_CONTEXT1_PAGE_TABLE_BASE_ADDR_LO32",
				"mmVM_CONTEXT1_PAGE_TABLE_BASE_ADDR_HI32").
			Return(uint64(0), errors.New("mmio read failed"))

		acc := vm.MakeBuilder().
			WithAsic(asic).
			WithRegisterFile(regs).
			WithVRAM(vram).
			Build()

		_, err := acc.ReadVM(amdgpu.HubGFX, 1, 0, 0x1000, 4)

		Expect(err).To(HaveOccurred())
		Expect(vm.Classify(err)).To(Equal(vm.ClassRegister))
	})

	It("classes payload backend failures", func() {
		pte := codec.EncodePTE(vm.PTEFields{
			Valid: true, Read: true, Write: true, PageBase: 0x654000,
		})
		vram.EXPECT().
			Read(uint64(0x10038), uint64(8)).
			Return(rawBytes(pte), nil)
		vram.EXPECT().
			Read(uint64(0x654345), uint64(1)).
			Return(nil, errors.New("bar window closed"))

		acc := vm.MakeBuilder().
			WithAsic(asic).
			WithRegisterFile(regs).
			WithVRAM(vram).
			Build()

		_, err := acc.ReadVMReq(vm.WalkRequest{
			Hub: amdgpu.HubGFX, VMID: 1, VA: 0x7345, Size: 1,
			Snapshot: flatSnap(),
		})

		Expect(err).To(HaveOccurred())
		Expect(vm.Classify(err)).To(Equal(vm.ClassBackend))
	})

	It("classes table fetch failures", func() {
		nodes := NewMockNodeMemory(mockCtrl)
		nodes.EXPECT().
			Node(0).
			Return(nil, errors.New("node offline"))

		acc := vm.MakeBuilder().
			WithAsic(asic).
			WithRegisterFile(regs).
			WithNodeMemory(nodes).
			Build()

		_, err := acc.ReadVMReq(vm.WalkRequest{
			Hub: amdgpu.HubGFX, VMID: 1, VA: 0x7345, Size: 1,
			Snapshot: flatSnap(),
		})

		Expect(err).To(HaveOccurred())
		Expect(vm.Classify(err)).To(Equal(vm.ClassBackend))
	})

	It("writes system pages through the system backend", func() {
		sys := NewMockSystemMemory(mockCtrl)

		pte := codec.EncodePTE(vm.PTEFields{
			Valid: true, System: true, Read: true, Write: true,
			PageBase: 0x20000000,
		})
		vram.EXPECT().
			Read(uint64(0x10038), uint64(8)).
			Return(rawBytes(pte), nil)
		sys.EXPECT().
			Write(uint64(0x20000345), []byte{9, 9}).
			Return(nil)

		acc := vm.MakeBuilder().
			WithAsic(asic).
			WithRegisterFile(regs).
			WithVRAM(vram).
			WithSystemMemory(sys).
			Build()

		err := acc.WriteVMReq(vm.WalkRequest{
			Hub: amdgpu.HubGFX, VMID: 1, VA: 0x7345,
			Snapshot: flatSnap(),
		}, []byte{9, 9})

		Expect(err).NotTo(HaveOccurred())
	})

	It("routes process locations to the process backend", func() {
		proc := NewMockProcessMemory(mockCtrl)
		proc.EXPECT().
			Read(uint64(0x5000), uint64(4)).
			Return([]byte{1, 2, 3, 4}, nil)

		acc := vm.MakeBuilder().
			WithAsic(asic).
			WithRegisterFile(regs).
			WithProcessMemory(proc).
			Build()

		b, err := acc.Router().Read(vm.Location{
			Space: vm.SpaceProcess, Addr: 0x5000,
		}, 4)

		Expect(err).NotTo(HaveOccurred())
		Expect(b).To(Equal([]byte{1, 2, 3, 4}))
	})

	It("fails routes with no backend bound", func() {
		acc := vm.MakeBuilder().
			WithAsic(asic).
			WithRegisterFile(regs).
			Build()

		_, err := acc.Router().Read(vm.Location{
			Space: vm.SpaceSystem, Addr: 0x1000,
		}, 4)

		Expect(err).To(HaveOccurred())
	})
})
