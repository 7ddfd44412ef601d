package layer

import (
	"log/slog"
	"sync"

	"github.com/smazurov/displaynode/internal/disperr"
	"github.com/smazurov/displaynode/internal/logging"
	"github.com/smazurov/displaynode/internal/metrics"
	"github.com/smazurov/displaynode/internal/regs"
)

// Hardware limits.
const (
	MaxVideoSize     = 2048
	MaxScreenSize    = 4096
	DefaultRGBLayers = 2
	DefaultSpinLimit = 20000
)

// Options configures a Compositor.
type Options struct {
	// RGBLayers is the number of RGB planes. The video plane follows them.
	RGBLayers int
	// SpinLimit bounds the dirty flag poll of immediate commits.
	SpinLimit int
}

// Compositor owns the layer mixer of one pipe. All register writes are
// serialized by a single mutex.
type Compositor struct {
	pipe   int
	bank   regs.Bank
	logger *slog.Logger
	spin   int

	mu         sync.Mutex
	layers     []Layer
	enabled    bool
	priority   Priority
	screenW    int
	screenH    int
	background uint32
}

// NewCompositor creates a compositor over the mixer register bank of pipe.
func NewCompositor(pipe int, bank regs.Bank, opts Options, logger *slog.Logger) *Compositor {
	if opts.RGBLayers <= 0 {
		opts.RGBLayers = DefaultRGBLayers
	}
	if opts.SpinLimit <= 0 {
		opts.SpinLimit = DefaultSpinLimit
	}
	if logger == nil {
		logger = logging.GetLogger("layer")
	}

	c := &Compositor{
		pipe:   pipe,
		bank:   bank,
		logger: logger.With("pipe", pipe),
		spin:   opts.SpinLimit,
		layers: make([]Layer, opts.RGBLayers+1),
	}
	for i := range c.layers {
		c.layers[i] = Layer{Index: i, Kind: KindRGB, Color: ColorControls{Alpha: MaxAlpha}}
	}
	c.layers[opts.RGBLayers].Kind = KindVideo
	return c
}

// VideoLayer returns the index of the video plane.
func (c *Compositor) VideoLayer() int {
	return len(c.layers) - 1
}

// Layer returns a snapshot of layer index.
func (c *Compositor) Layer(index int) (Layer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, err := c.layer("layer.Layer", index)
	if err != nil {
		return Layer{}, err
	}
	return *l, nil
}

// Layers returns snapshots of every layer.
func (c *Compositor) Layers() []Layer {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Layer, len(c.layers))
	copy(out, c.layers)
	return out
}

func (c *Compositor) layer(op string, index int) (*Layer, error) {
	if index < 0 || index >= len(c.layers) {
		return nil, disperr.Newf(disperr.CodeInvalidArgument, op, "no layer %d", index)
	}
	return &c.layers[index], nil
}

func requireState(op string, l *Layer, need State) error {
	if l.State >= need {
		return nil
	}
	return disperr.Newf(disperr.CodeInvalidLayerSequencing, op, "layer %d is %s, needs %s", l.Index, l.State, need)
}

// SetFormat selects the pixel format of a layer. RGB layers take RGB formats
// and the video layer takes YUV formats.
func (c *Compositor) SetFormat(index int, f Format) error {
	const op = "layer.SetFormat"
	c.mu.Lock()
	defer c.mu.Unlock()

	l, err := c.layer(op, index)
	if err != nil {
		return err
	}
	if f.BitsPerPixel() == 0 {
		return disperr.Newf(disperr.CodeUnsupportedPixelFormat, op, "format %d", int(f))
	}
	if f.IsYUV() != (l.Kind == KindVideo) {
		return disperr.Newf(disperr.CodeUnsupportedPixelFormat, op, "%s layer cannot scan out %s", l.Kind, f)
	}
	if l.State >= StateFormatSet && l.Format == f {
		return nil
	}
	if err := checkStride(op, l, l.Source.W, f); err != nil {
		return err
	}

	l.Format = f
	c.writeCtrl(l)
	// keys compare against the new depth
	if l.Kind == KindRGB {
		l.Color.TransparentKey = QuantizeColor(l.Color.TransparentKey, f)
		l.Color.InvertKey = QuantizeColor(l.Color.InvertKey, f)
		c.bank.Write32(LayerBase(index)+RegLayerTPColor, l.Color.TransparentKey)
		c.bank.Write32(LayerBase(index)+RegLayerInvColor, l.Color.InvertKey)
	}
	l.State = max(l.State, StateFormatSet)
	l.Pending = true
	c.logger.Debug("Layer format set", "layer", index, "format", f.String())
	return nil
}

// SetPosition places a layer. src selects the visible part of the source
// buffer; an empty src means the whole destination size. The video layer
// scales src to dst and its destination is clamped to MaxVideoSize.
func (c *Compositor) SetPosition(index int, src, dst Rect, commitNow bool) error {
	const op = "layer.SetPosition"
	c.mu.Lock()
	defer c.mu.Unlock()

	l, err := c.layer(op, index)
	if err != nil {
		return err
	}
	if err := requireState(op, l, StateFormatSet); err != nil {
		return err
	}
	if dst.Empty() {
		return disperr.Newf(disperr.CodeInvalidArgument, op, "empty destination %s", dst)
	}
	if src.Empty() {
		src = Rect{W: dst.W, H: dst.H}
	}

	if l.Kind == KindVideo {
		if src.W > MaxVideoSize || src.H > MaxVideoSize {
			return disperr.Newf(disperr.CodeInvalidArgument, op, "video source %s exceeds %dx%d", src, MaxVideoSize, MaxVideoSize)
		}
		dst.W = min(dst.W, MaxVideoSize)
		dst.H = min(dst.H, MaxVideoSize)
	} else if !src.SameSize(dst) {
		return disperr.Newf(disperr.CodeInvalidArgument, op, "RGB layer cannot scale %s to %s", src, dst)
	}

	if l.State >= StatePositioned && l.Source == src && l.Dest == dst {
		return nil
	}
	if err := checkStride(op, l, src.W, l.Format); err != nil {
		return err
	}

	c.waitDirty(l, commitNow)
	base := LayerBase(index)
	c.bank.Write32(base+RegLayerLeftRight, span(dst.X, dst.W))
	c.bank.Write32(base+RegLayerTopBottom, span(dst.Y, dst.H))
	if l.Kind == KindVideo {
		c.bank.Write32(base+RegLayerHScale, scale(src.W, dst.W))
		c.bank.Write32(base+RegLayerVScale, scale(src.H, dst.H))
		c.bank.Write32(base+RegLayerSource, uint32(src.W)|uint32(src.H)<<16)
	}

	l.Source = src
	l.Dest = dst
	l.State = max(l.State, StatePositioned)
	c.finish(l, commitNow)
	return nil
}

// checkStride rejects a format or source width whose lines would no longer
// fit the stride of an addressed layer. Set a new address first.
func checkStride(op string, l *Layer, srcW int, f Format) error {
	if l.State < StateAddressed {
		return nil
	}
	if need := srcW * f.BytesPerPixel(); l.Stride < need {
		return disperr.Newf(disperr.CodeInvalidArgument, op, "stride %d below line size %d", l.Stride, need)
	}
	return nil
}

// span packs a start coordinate and inclusive end into one register word.
func span(start, length int) uint32 {
	return uint32(uint16(int16(start))) | uint32(uint16(int16(start+length-1)))<<16
}

func scale(src, dst int) uint32 {
	v := (uint32(src) << 11) / uint32(dst) & 0xffffff
	if src != dst {
		v |= ScaleFilter
	}
	return v
}

// SetAddress points a layer at its framebuffer. With commitNow the write
// waits for the previous commit to latch and then commits; otherwise the
// caller commits later with Commit or CommitPending.
func (c *Compositor) SetAddress(index int, addr uint32, stride int, commitNow bool) error {
	const op = "layer.SetAddress"
	c.mu.Lock()
	defer c.mu.Unlock()

	l, err := c.layer(op, index)
	if err != nil {
		return err
	}
	if err := requireState(op, l, StatePositioned); err != nil {
		return err
	}
	if stride <= 0 {
		return disperr.Newf(disperr.CodeInvalidArgument, op, "stride %d", stride)
	}
	if minStride := l.Source.W * l.Format.BytesPerPixel(); stride < minStride {
		return disperr.Newf(disperr.CodeInvalidArgument, op, "stride %d below line size %d", stride, minStride)
	}
	if l.State >= StateAddressed && l.Address == addr && l.Stride == stride {
		return nil
	}

	c.waitDirty(l, commitNow)
	base := LayerBase(index)
	c.bank.Write32(base+RegLayerStride, uint32(stride))
	c.bank.Write32(base+RegLayerAddress, addr)

	l.Address = addr
	l.Stride = stride
	l.State = max(l.State, StateAddressed)
	c.finish(l, commitNow)
	return nil
}

// SetLayerEnable turns a layer on or off. Enabling requires format, position
// and address to have been set.
func (c *Compositor) SetLayerEnable(index int, on, commitNow bool) error {
	const op = "layer.SetLayerEnable"
	c.mu.Lock()
	defer c.mu.Unlock()

	l, err := c.layer(op, index)
	if err != nil {
		return err
	}
	if l.Enabled == on {
		return nil
	}
	if on {
		if err := requireState(op, l, StateAddressed); err != nil {
			return err
		}
	}

	c.waitDirty(l, commitNow)
	l.Enabled = on
	if on {
		l.State = StateEnabled
	} else {
		l.State = StateAddressed
	}
	c.writeCtrl(l)
	c.finish(l, commitNow)
	c.logger.Debug("Layer enable changed", "layer", index, "enabled", on)
	return nil
}

// SetColor updates one color control. Alpha is clamped to [0, MaxAlpha]. Keys
// are 0xRRGGBB colors quantized to the layer depth before they are stored;
// they apply to RGB layers only.
func (c *Compositor) SetColor(index int, kind ColorKind, value int, on, commitNow bool) error {
	const op = "layer.SetColor"
	c.mu.Lock()
	defer c.mu.Unlock()

	l, err := c.layer(op, index)
	if err != nil {
		return err
	}
	base := LayerBase(index)

	switch kind {
	case ColorAlpha:
		a := min(max(value, 0), MaxAlpha)
		if l.Color.Alpha == a && l.Color.AlphaOn == on {
			return nil
		}
		c.waitDirty(l, commitNow)
		l.Color.Alpha = a
		l.Color.AlphaOn = on
		c.bank.Write32(base+RegLayerAlpha, uint32(a))
	case ColorTransparentKey, ColorInvertKey:
		if l.Kind != KindRGB {
			return disperr.Newf(disperr.CodeInvalidArgument, op, "%s is not available on the video layer", kind)
		}
		if err := requireState(op, l, StateFormatSet); err != nil {
			return err
		}
		q := QuantizeColor(uint32(value), l.Format)
		key, keyOn, reg := &l.Color.TransparentKey, &l.Color.TransparentOn, RegLayerTPColor
		if kind == ColorInvertKey {
			key, keyOn, reg = &l.Color.InvertKey, &l.Color.InvertOn, RegLayerInvColor
		}
		if *key == q && *keyOn == on {
			return nil
		}
		c.waitDirty(l, commitNow)
		*key = q
		*keyOn = on
		c.bank.Write32(base+reg, q)
	default:
		return disperr.Newf(disperr.CodeInvalidArgument, op, "unknown color control %d", int(kind))
	}

	c.writeCtrl(l)
	c.finish(l, commitNow)
	return nil
}

// writeCtrl rewrites the layer control word from the shadow state. The
// dirty bit is left as read so a pending commit is not lost.
func (c *Compositor) writeCtrl(l *Layer) {
	v := l.Format.info().code << layerFormatShift
	if l.Enabled {
		v |= LayerEnable
	}
	if l.Format.HasAlpha() || l.Color.AlphaOn {
		v |= LayerBlend
	}
	if l.Color.TransparentOn {
		v |= LayerTPEnable
	}
	if l.Color.InvertOn {
		v |= LayerInvEnable
	}
	mask := layerFormatMask | LayerEnable | LayerBlend | LayerTPEnable | LayerInvEnable
	regs.Update(c.bank, LayerBase(l.Index)+RegLayerCtrl, mask, v)
}

// waitDirty spins until the previous commit of l has latched. A flag that
// never clears is logged and the write proceeds.
func (c *Compositor) waitDirty(l *Layer, commitNow bool) {
	if !commitNow {
		return
	}
	off := LayerBase(l.Index) + RegLayerCtrl
	for range c.spin {
		if c.bank.Read32(off)&LayerDirty == 0 {
			return
		}
	}
	c.logger.Warn("Layer dirty flag did not clear", "layer", l.Index, "polls", c.spin)
}

func (c *Compositor) finish(l *Layer, commitNow bool) {
	if commitNow {
		c.commit(l)
		return
	}
	l.Pending = true
}

func (c *Compositor) commit(l *Layer) {
	regs.SetBits(c.bank, LayerBase(l.Index)+RegLayerCtrl, LayerDirty)
	l.Pending = false
	metrics.IncLayerCommit(c.pipe, l.Index)
}

// Commit sets the dirty flag of a layer so its registers latch at the next
// vblank.
func (c *Compositor) Commit(index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, err := c.layer("layer.Commit", index)
	if err != nil {
		return err
	}
	c.commit(l)
	return nil
}

// CommitPending commits every layer with uncommitted writes and returns how
// many were committed.
func (c *Compositor) CommitPending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for i := range c.layers {
		if c.layers[i].Pending {
			c.commit(&c.layers[i])
			n++
		}
	}
	if n > 0 {
		c.commitMixer()
	}
	return n
}

func (c *Compositor) commitMixer() {
	regs.SetBits(c.bank, RegMixerCtrl, MixerDirty)
}

// SetScreenSize sets the mixer output size.
func (c *Compositor) SetScreenSize(w, h int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if w <= 0 || h <= 0 || w > MaxScreenSize || h > MaxScreenSize {
		return disperr.Newf(disperr.CodeInvalidArgument, "layer.SetScreenSize", "screen size %dx%d", w, h)
	}
	if c.screenW == w && c.screenH == h {
		return nil
	}
	c.screenW, c.screenH = w, h
	c.bank.Write32(RegScreenSize, uint32(w-1)|uint32(h-1)<<16)
	c.commitMixer()
	return nil
}

// ScreenSize returns the mixer output size, zero until set.
func (c *Compositor) ScreenSize() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.screenW, c.screenH
}

// SetBackgroundColor sets the 0xRRGGBB color shown where no layer covers the
// screen.
func (c *Compositor) SetBackgroundColor(rgb uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rgb &= 0xffffff
	if c.background == rgb {
		return
	}
	c.background = rgb
	c.bank.Write32(RegBackground, rgb)
	c.commitMixer()
}

// Background returns the background color.
func (c *Compositor) Background() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.background
}

// SetPriority selects the stacking order of the video layer.
func (c *Compositor) SetPriority(p Priority) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !p.valid() {
		return disperr.Newf(disperr.CodeInvalidArgument, "layer.SetPriority", "priority %d", int(p))
	}
	if c.priority == p {
		return nil
	}
	c.priority = p
	regs.Update(c.bank, RegMixerCtrl, mixerPrioMask, uint32(p)<<mixerPrioShift)
	c.commitMixer()
	return nil
}

// Priority returns the current stacking order.
func (c *Compositor) Priority() Priority {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.priority
}

// Order returns layer indices from top to bottom.
func (c *Compositor) Order() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	video := len(c.layers) - 1
	pos := min(int(c.priority), video)
	out := make([]int, 0, len(c.layers))
	for i := range video {
		if i == pos {
			out = append(out, video)
		}
		out = append(out, i)
	}
	if pos >= video {
		out = append(out, video)
	}
	return out
}

// SetEnable turns the whole mixer on or off, powering the gamma and dither
// unit accordingly. Every enabled layer is recommitted.
func (c *Compositor) SetEnable(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enabled == on {
		return
	}
	c.enabled = on

	if on {
		regs.Update(c.bank, RegMixerCtrl, MixerEnable|MixerPowerGamma|MixerSleepGamma, MixerEnable|MixerPowerGamma)
	} else {
		regs.Update(c.bank, RegMixerCtrl, MixerEnable|MixerPowerGamma|MixerSleepGamma, MixerSleepGamma)
	}
	for i := range c.layers {
		if c.layers[i].Enabled {
			c.commit(&c.layers[i])
		}
	}
	c.commitMixer()
	c.logger.Debug("Mixer enable changed", "enabled", on)
}

// Enabled reports whether the mixer is on.
func (c *Compositor) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// Restore rewrites every register from the shadow state and commits, for use
// after the register block lost power.
func (c *Compositor) Restore() {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctrl := uint32(c.priority) << mixerPrioShift
	if c.enabled {
		ctrl |= MixerEnable | MixerPowerGamma
	} else {
		ctrl |= MixerSleepGamma
	}
	c.bank.Write32(RegMixerCtrl, ctrl)
	if c.screenW > 0 {
		c.bank.Write32(RegScreenSize, uint32(c.screenW-1)|uint32(c.screenH-1)<<16)
	}
	c.bank.Write32(RegBackground, c.background)

	for i := range c.layers {
		l := &c.layers[i]
		base := LayerBase(i)
		c.bank.Write32(base+RegLayerCtrl, 0)
		if l.State == StateDisabled {
			continue
		}
		c.writeCtrl(l)
		c.bank.Write32(base+RegLayerAlpha, uint32(l.Color.Alpha))
		c.bank.Write32(base+RegLayerTPColor, l.Color.TransparentKey)
		c.bank.Write32(base+RegLayerInvColor, l.Color.InvertKey)
		if l.State >= StatePositioned {
			c.bank.Write32(base+RegLayerLeftRight, span(l.Dest.X, l.Dest.W))
			c.bank.Write32(base+RegLayerTopBottom, span(l.Dest.Y, l.Dest.H))
			if l.Kind == KindVideo {
				c.bank.Write32(base+RegLayerHScale, scale(l.Source.W, l.Dest.W))
				c.bank.Write32(base+RegLayerVScale, scale(l.Source.H, l.Dest.H))
				c.bank.Write32(base+RegLayerSource, uint32(l.Source.W)|uint32(l.Source.H)<<16)
			}
		}
		if l.State >= StateAddressed {
			c.bank.Write32(base+RegLayerStride, uint32(l.Stride))
			c.bank.Write32(base+RegLayerAddress, l.Address)
		}
		c.commit(l)
	}
	c.commitMixer()
	c.logger.Debug("Mixer registers restored")
}
