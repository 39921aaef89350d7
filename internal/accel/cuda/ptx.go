package cuda

import (
	"fmt"
	"strings"

	"github.com/samcharles93/accelq/internal/accel"
)

const ptxHeader = `.version 6.0
.target sm_52
.address_size 64
`

const setSizePTX = `
.visible .entry set_size(.param .u64 p_dst, .param .u64 p_size)
{
	.reg .b64 %rd<3>;
	ld.param.u64 %rd1, [p_dst];
	ld.param.u64 %rd2, [p_size];
	cvta.to.global.u64 %rd1, %rd1;
	st.global.u64 [%rd1], %rd2;
	ret;
}
`

// fillPrologue computes the element address of this thread in %rd10 and
// exits threads past nx. The element size is in %rd5.
const fillPrologue = `
	.reg .pred %p<3>;
	.reg .b16 %rs<2>;
	.reg .b32 %r<8>;
	.reg .b64 %rd<16>;
	ld.param.u64 %rd1, [p_dst];
	ld.param.u64 %rd2, [p_pitch];
	ld.param.u64 %rd3, [p_slice];
	ld.param.u64 %rd4, [p_nx];
	ld.param.u64 %rd5, [p_elem];
	cvta.to.global.u64 %rd1, %rd1;
	mov.u32 %r1, %ctaid.x;
	mov.u32 %r2, %ntid.x;
	mov.u32 %r3, %tid.x;
	mad.lo.s32 %r4, %r1, %r2, %r3;
	cvt.u64.u32 %rd7, %r4;
	setp.ge.u64 %p1, %rd7, %rd4;
	@%p1 bra DONE;
	mov.u32 %r5, %ctaid.y;
	cvt.u64.u32 %rd8, %r5;
	mov.u32 %r6, %ctaid.z;
	cvt.u64.u32 %rd9, %r6;
	mul.lo.u64 %rd10, %rd7, %rd5;
	mad.lo.u64 %rd10, %rd8, %rd2, %rd10;
	mad.lo.u64 %rd10, %rd9, %rd3, %rd10;
	add.u64 %rd10, %rd1, %rd10;
`

const fillParams = `.param .u64 p_dst, .param .u64 p_pitch, .param .u64 p_slice, .param .u64 p_nx, .param .u64 p_elem`

const fillPointerPTX = `
.visible .entry fill_pointer(` + fillParams + `, .param .u64 p_src)
{` + fillPrologue + `
	ld.param.u64 %rd6, [p_src];
	cvta.to.global.u64 %rd6, %rd6;
	mov.u64 %rd11, 0;
LOOP:
	setp.ge.u64 %p2, %rd11, %rd5;
	@%p2 bra DONE;
	add.u64 %rd12, %rd6, %rd11;
	ld.global.u8 %rs1, [%rd12];
	add.u64 %rd13, %rd10, %rd11;
	st.global.u8 [%rd13], %rs1;
	add.u64 %rd11, %rd11, 1;
	bra LOOP;
DONE:
	ret;
}
`

// fillValuePTX unrolls the byte copy since parameter space only takes
// constant offsets.
func fillValuePTX() string {
	var b strings.Builder
	fmt.Fprintf(&b, "\n.visible .entry fill_value(%s, .param .align 8 .b8 p_value[%d])\n{", fillParams, accel.MaxValueBytes)
	b.WriteString(fillPrologue)
	for i := 0; i < accel.MaxValueBytes; i++ {
		fmt.Fprintf(&b, "\tsetp.le.u64 %%p2, %%rd5, %d;\n", i)
		b.WriteString("\t@%p2 bra DONE;\n")
		fmt.Fprintf(&b, "\tld.param.u8 %%rs1, [p_value+%d];\n", i)
		fmt.Fprintf(&b, "\tst.global.u8 [%%rd10+%d], %%rs1;\n", i)
	}
	b.WriteString("DONE:\n\tret;\n}\n")
	return b.String()
}

// builtinPTX returns the module image holding every built-in kernel.
func builtinPTX() string {
	return ptxHeader + setSizePTX + fillPointerPTX + fillValuePTX()
}

// builtinNames lists the entry points of builtinPTX.
var builtinNames = []string{accel.KernelSetSize, accel.KernelFillValue, accel.KernelFillPointer}
