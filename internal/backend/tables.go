package backend

import (
	"github.com/smazurov/displaynode/internal/disperr"
	"periph.io/x/conn/v3/physic"
)

// PLL is a PMS divider setting for a 24 MHz reference: fout = m*24MHz/(p*2^s).
type PLL struct {
	P, M, S uint32
	Band    uint32
}

// Output returns the PLL output frequency.
func (p PLL) Output() physic.Frequency {
	return 24 * physic.MegaHertz * physic.Frequency(p.M) / physic.Frequency(p.P<<p.S)
}

func (p PLL) word() uint32 {
	return p.P | p.M<<8 | p.S<<20 | p.Band<<24
}

type pllRange struct {
	max physic.Frequency
	pll PLL
}

// lvdsPLLs maps the pixel clock to the serializer PLL. The LVDS bit clock runs
// at seven times the pixel clock.
var lvdsPLLs = []pllRange{
	{40 * physic.MegaHertz, PLL{P: 2, M: 70, S: 2, Band: 0}},
	{65 * physic.MegaHertz, PLL{P: 3, M: 125, S: 1, Band: 1}},
	{85 * physic.MegaHertz, PLL{P: 2, M: 100, S: 1, Band: 2}},
	{110 * physic.MegaHertz, PLL{P: 1, M: 64, S: 1, Band: 3}},
	{150 * physic.MegaHertz, PLL{P: 2, M: 175, S: 0, Band: 4}},
}

// LVDSPLLFor returns the divider setting for a pixel clock. Clocks above the
// table use the last entry.
func LVDSPLLFor(pclk physic.Frequency) (PLL, bool) {
	for _, r := range lvdsPLLs {
		if pclk <= r.max {
			return r.pll, true
		}
	}
	return lvdsPLLs[len(lvdsPLLs)-1].pll, false
}

// dsiPLLs maps the D-PHY high-speed bit rate to PMS and band control.
var dsiPLLs = []pllRange{
	{100 * physic.MegaHertz, PLL{P: 3, M: 100, S: 3, Band: 0x0}},
	{200 * physic.MegaHertz, PLL{P: 3, M: 100, S: 2, Band: 0x3}},
	{300 * physic.MegaHertz, PLL{P: 3, M: 75, S: 1, Band: 0x5}},
	{420 * physic.MegaHertz, PLL{P: 3, M: 105, S: 1, Band: 0x7}},
	{480 * physic.MegaHertz, PLL{P: 3, M: 120, S: 1, Band: 0x8}},
	{600 * physic.MegaHertz, PLL{P: 3, M: 75, S: 0, Band: 0xa}},
	{750 * physic.MegaHertz, PLL{P: 4, M: 125, S: 0, Band: 0xc}},
	{900 * physic.MegaHertz, PLL{P: 4, M: 150, S: 0, Band: 0xd}},
	{1000 * physic.MegaHertz, PLL{P: 3, M: 125, S: 0, Band: 0xf}},
}

// DSIPLLFor returns the PMS setting for a lane bit rate in Mbit/s.
func DSIPLLFor(mbps int) (PLL, error) {
	rate := physic.Frequency(mbps) * physic.MegaHertz
	if mbps <= 0 {
		return PLL{}, disperr.Newf(disperr.CodeInvalidArgument, "backend.DSIPLLFor", "bit rate %d Mbit/s", mbps)
	}
	for _, r := range dsiPLLs {
		if rate <= r.max {
			return r.pll, nil
		}
	}
	return PLL{}, disperr.Newf(disperr.CodeNoMatchingMode, "backend.DSIPLLFor", "bit rate %d Mbit/s above D-PHY limit", mbps)
}
