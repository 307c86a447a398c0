package regdb

import "fmt"

// NumVMContexts is the number of VM contexts (VMIDs) each hub carries.
const NumVMContexts = 16

// hub register-name prefixes, mirroring amdgpu.Hub.RegPrefix. Kept as
// data here so the database does not import the ASIC model.
var hubPrefixes = []struct {
	ip     string
	prefix string
}{
	{"gfx", "mm"},
	{"mmhub", "mmMM"},
	{"mmhub", "mmVC0"},
	{"mmhub", "mmVC1"},
}

// Default builds the register database every supported chip shares: the
// per-hub VM context registers, the MC aperture registers, and the ring
// buffer registers of the first CP and SDMA queues. Chips with extra or
// renamed registers add them on top, typically from a harness file.
func Default() *StaticDatabase {
	db := NewStaticDatabase()

	for _, hp := range hubPrefixes {
		addVMContextRegs(db, hp.ip, hp.prefix)
		addMCRegs(db, hp.ip, hp.prefix)
	}

	addVIRegs(db)
	addRingRegs(db)

	return db
}

// Pre-GFX9 chips carry 32-bit table address registers and a combined FB
// location register. They share the CNTL and aperture registers with
// the newer layout.
func addVIRegs(db *StaticDatabase) {
	for ctx := 0; ctx < NumVMContexts; ctx++ {
		for _, part := range []string{
			"PAGE_TABLE_BASE_ADDR",
			"PAGE_TABLE_START_ADDR",
			"PAGE_TABLE_END_ADDR",
		} {
			db.Add("gfx", Register{
				Name: fmt.Sprintf("mmVM_CONTEXT%d_%s", ctx, part),
			})
		}
	}

	db.Add("gfx", Register{
		Name: "mmMC_VM_FB_LOCATION",
		Bitfields: []Bitfield{
			{Name: "FB_BASE", Lo: 0, Hi: 15},
			{Name: "FB_TOP", Lo: 16, Hi: 31},
		},
	})
}

func addVMContextRegs(db *StaticDatabase, ip, prefix string) {
	for ctx := 0; ctx < NumVMContexts; ctx++ {
		for _, part := range []string{
			"PAGE_TABLE_START_ADDR",
			"PAGE_TABLE_END_ADDR",
			"PAGE_TABLE_BASE_ADDR",
		} {
			db.Add(ip, Register{
				Name: fmt.Sprintf("%sVM_CONTEXT%d_%s_LO32", prefix, ctx, part),
			})
			db.Add(ip, Register{
				Name: fmt.Sprintf("%sVM_CONTEXT%d_%s_HI32", prefix, ctx, part),
			})
		}

		db.Add(ip, Register{
			Name: fmt.Sprintf("%sVM_CONTEXT%d_CNTL", prefix, ctx),
			Bitfields: []Bitfield{
				{Name: "ENABLE_CONTEXT", Lo: 0, Hi: 0},
				{Name: "PAGE_TABLE_DEPTH", Lo: 1, Hi: 2},
				{Name: "PAGE_TABLE_BLOCK_SIZE", Lo: 3, Hi: 6},
			},
		})
	}
}

func addMCRegs(db *StaticDatabase, ip, prefix string) {
	db.Add(ip, Register{
		Name:      prefix + "MC_VM_FB_LOCATION_BASE",
		Bitfields: []Bitfield{{Name: "FB_BASE", Lo: 0, Hi: 23}},
	})
	db.Add(ip, Register{
		Name:      prefix + "MC_VM_FB_LOCATION_TOP",
		Bitfields: []Bitfield{{Name: "FB_TOP", Lo: 0, Hi: 23}},
	})
	db.Add(ip, Register{
		Name:      prefix + "MC_VM_FB_OFFSET",
		Bitfields: []Bitfield{{Name: "FB_OFFSET", Lo: 0, Hi: 23}},
	})

	db.Add(ip, Register{Name: prefix + "MC_VM_AGP_BASE"})
	db.Add(ip, Register{Name: prefix + "MC_VM_AGP_BOT"})
	db.Add(ip, Register{Name: prefix + "MC_VM_AGP_TOP"})

	db.Add(ip, Register{Name: prefix + "MC_VM_SYSTEM_APERTURE_LOW_ADDR"})
	db.Add(ip, Register{Name: prefix + "MC_VM_SYSTEM_APERTURE_HIGH_ADDR"})

	db.Add(ip, Register{
		Name: prefix + "MC_VM_MX_L1_TLB_CNTL",
		Bitfields: []Bitfield{
			{Name: "ENABLE_L1_TLB", Lo: 0, Hi: 0},
			{Name: "SYSTEM_ACCESS_MODE", Lo: 3, Hi: 4},
			{Name: "SYSTEM_APERTURE_UNMAPPED_ACCESS", Lo: 5, Hi: 5},
		},
	})

	db.Add(ip, Register{
		Name: prefix + "MC_VM_XGMI_LFB_CNTL",
		Bitfields: []Bitfield{
			{Name: "PF_LFB_REGION", Lo: 0, Hi: 3},
			{Name: "PF_MAX_REGION", Lo: 4, Hi: 7},
		},
	})
	db.Add(ip, Register{
		Name:      prefix + "MC_VM_XGMI_LFB_SIZE",
		Bitfields: []Bitfield{{Name: "PF_LFB_SIZE", Lo: 0, Hi: 15}},
	})
}

func addRingRegs(db *StaticDatabase) {
	db.Add("gfx", Register{Name: "mmCP_RB0_BASE"})
	db.Add("gfx", Register{Name: "mmCP_RB0_BASE_HI"})
	db.Add("gfx", Register{Name: "mmCP_RB0_RPTR"})
	db.Add("gfx", Register{Name: "mmCP_RB0_WPTR"})
	db.Add("gfx", Register{Name: "mmCP_RB0_WPTR_HI"})
	db.Add("gfx", Register{
		Name:      "mmCP_RB0_CNTL",
		Bitfields: []Bitfield{{Name: "RB_BUFSZ", Lo: 0, Hi: 5}},
	})

	db.Add("sdma", Register{Name: "mmSDMA0_GFX_RB_BASE"})
	db.Add("sdma", Register{Name: "mmSDMA0_GFX_RB_BASE_HI"})
	db.Add("sdma", Register{Name: "mmSDMA0_GFX_RB_RPTR"})
	db.Add("sdma", Register{Name: "mmSDMA0_GFX_RB_RPTR_HI"})
	db.Add("sdma", Register{Name: "mmSDMA0_GFX_RB_WPTR"})
	db.Add("sdma", Register{Name: "mmSDMA0_GFX_RB_WPTR_HI"})
	db.Add("sdma", Register{
		Name:      "mmSDMA0_GFX_RB_CNTL",
		Bitfields: []Bitfield{{Name: "RB_SIZE", Lo: 1, Hi: 6}},
	})
}
