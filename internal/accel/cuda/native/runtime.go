//go:build cuda

package native

/*
#cgo LDFLAGS: -lcudart -lcuda

#include <stdlib.h>
#include <string.h>

// Minimal CUDA forward declarations to avoid requiring headers at compile time.
// Linker will still require libcudart and libcuda when building with the cuda tag.
typedef void* cudaStream_t;
typedef void* cudaEvent_t;
typedef int cudaError_t;
typedef void* CUmodule;
typedef void* CUfunction;
typedef int CUresult;

extern const char* cudaGetErrorString(cudaError_t err);
extern cudaError_t cudaGetDeviceCount(int* count);
extern cudaError_t cudaSetDevice(int device);
extern cudaError_t cudaDeviceSynchronize(void);
extern cudaError_t cudaMemGetInfo(size_t* free, size_t* total);
extern cudaError_t cudaStreamCreate(cudaStream_t* stream);
extern cudaError_t cudaStreamDestroy(cudaStream_t stream);
extern cudaError_t cudaStreamSynchronize(cudaStream_t stream);
extern cudaError_t cudaStreamWaitEvent(cudaStream_t stream, cudaEvent_t event, unsigned int flags);
extern cudaError_t cudaEventCreateWithFlags(cudaEvent_t* event, unsigned int flags);
extern cudaError_t cudaEventDestroy(cudaEvent_t event);
extern cudaError_t cudaEventRecord(cudaEvent_t event, cudaStream_t stream);
extern cudaError_t cudaEventQuery(cudaEvent_t event);
extern cudaError_t cudaEventSynchronize(cudaEvent_t event);
extern cudaError_t cudaMalloc(void** ptr, unsigned long long size);
extern cudaError_t cudaFree(void* ptr);
extern cudaError_t cudaMallocHost(void** ptr, unsigned long long size);
extern cudaError_t cudaFreeHost(void* ptr);
extern cudaError_t cudaMemcpyAsync(void* dst, const void* src, unsigned long long size, int kind, cudaStream_t stream);
extern cudaError_t cudaMemcpy2DAsync(void* dst, size_t dpitch, const void* src, size_t spitch, size_t width, size_t height, int kind, cudaStream_t stream);
extern cudaError_t cudaMemset2DAsync(void* ptr, size_t pitch, int value, size_t width, size_t height, cudaStream_t stream);

extern CUresult cuModuleLoadData(CUmodule* module, const void* image);
extern CUresult cuModuleUnload(CUmodule module);
extern CUresult cuModuleGetFunction(CUfunction* fn, CUmodule module, const char* name);
extern CUresult cuLaunchKernel(CUfunction f,
	unsigned int gridDimX, unsigned int gridDimY, unsigned int gridDimZ,
	unsigned int blockDimX, unsigned int blockDimY, unsigned int blockDimZ,
	unsigned int sharedMemBytes, cudaStream_t stream, void** kernelParams, void** extra);

#define ACCELQ_CUDA_MEMCPY_DEFAULT 4
#define ACCELQ_CUDA_EVENT_DISABLE_TIMING 2

static const char* accelqCudaGetErrorString(cudaError_t err) {
	return cudaGetErrorString(err);
}

static int accelqCudaGetDeviceCount(int* out) {
	return (int)cudaGetDeviceCount(out);
}

static int accelqCudaSetDevice(int device) {
	return (int)cudaSetDevice(device);
}

static int accelqCudaDeviceSynchronize(void) {
	return (int)cudaDeviceSynchronize();
}

static int accelqCudaMemGetInfo(unsigned long long* freeBytes, unsigned long long* totalBytes) {
	size_t f = 0, t = 0;
	int err = (int)cudaMemGetInfo(&f, &t);
	*freeBytes = f;
	*totalBytes = t;
	return err;
}

static int accelqCudaStreamCreate(cudaStream_t* out) {
	return (int)cudaStreamCreate(out);
}

static int accelqCudaStreamDestroy(cudaStream_t stream) {
	return (int)cudaStreamDestroy(stream);
}

static int accelqCudaStreamSynchronize(cudaStream_t stream) {
	return (int)cudaStreamSynchronize(stream);
}

static int accelqCudaStreamWaitEvent(cudaStream_t stream, cudaEvent_t event) {
	return (int)cudaStreamWaitEvent(stream, event, 0);
}

static int accelqCudaEventCreate(cudaEvent_t* out) {
	return (int)cudaEventCreateWithFlags(out, ACCELQ_CUDA_EVENT_DISABLE_TIMING);
}

static int accelqCudaEventDestroy(cudaEvent_t event) {
	return (int)cudaEventDestroy(event);
}

static int accelqCudaEventRecord(cudaEvent_t event, cudaStream_t stream) {
	return (int)cudaEventRecord(event, stream);
}

static int accelqCudaEventQuery(cudaEvent_t event) {
	return (int)cudaEventQuery(event);
}

static int accelqCudaEventSynchronize(cudaEvent_t event) {
	return (int)cudaEventSynchronize(event);
}

static int accelqCudaMalloc(void** ptr, unsigned long long size) {
	return (int)cudaMalloc(ptr, size);
}

static int accelqCudaFree(void* ptr) {
	return (int)cudaFree(ptr);
}

static int accelqCudaMallocHost(void** ptr, unsigned long long size) {
	return (int)cudaMallocHost(ptr, size);
}

static int accelqCudaFreeHost(void* ptr) {
	return (int)cudaFreeHost(ptr);
}

static int accelqCudaMemcpyAsync(void* dst, const void* src, unsigned long long size, cudaStream_t stream) {
	return (int)cudaMemcpyAsync(dst, src, size, ACCELQ_CUDA_MEMCPY_DEFAULT, stream);
}

static int accelqCudaMemcpy2DAsync(void* dst, unsigned long long dpitch, const void* src, unsigned long long spitch,
	unsigned long long width, unsigned long long height, cudaStream_t stream) {
	return (int)cudaMemcpy2DAsync(dst, dpitch, src, spitch, width, height, ACCELQ_CUDA_MEMCPY_DEFAULT, stream);
}

static int accelqCudaMemset2DAsync(void* ptr, unsigned long long pitch, int value,
	unsigned long long width, unsigned long long height, cudaStream_t stream) {
	return (int)cudaMemset2DAsync(ptr, pitch, value, width, height, stream);
}

static int accelqCuModuleLoadData(CUmodule* out, const char* image) {
	return (int)cuModuleLoadData(out, image);
}

static int accelqCuModuleUnload(CUmodule module) {
	return (int)cuModuleUnload(module);
}

static int accelqCuModuleGetFunction(CUfunction* out, CUmodule module, const char* name) {
	return (int)cuModuleGetFunction(out, module, name);
}

static int accelqCuLaunchKernel(CUfunction f,
	unsigned int gx, unsigned int gy, unsigned int gz,
	unsigned int bx, unsigned int by, unsigned int bz,
	cudaStream_t stream, void** params) {
	return (int)cuLaunchKernel(f, gx, gy, gz, bx, by, bz, 0, stream, params, NULL);
}
*/
import "C"

import (
	"fmt"
	"unsafe"
)

const (
	errDeviceAlreadyInUse = 54
	errNotReady           = 600
)

type Stream struct {
	ptr C.cudaStream_t
}

type Event struct {
	ptr C.cudaEvent_t
}

type DeviceBuffer struct {
	ptr unsafe.Pointer
}

type HostBuffer struct {
	ptr unsafe.Pointer
}

type Module struct {
	ptr C.CUmodule
}

type Function struct {
	ptr C.CUfunction
}

// Error is a failed CUDA runtime or driver call.
type Error struct {
	Code int
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("cuda runtime error %d: %s", e.Code, e.Msg)
}

// DeviceBusy reports whether err is cudaErrorDeviceAlreadyInUse.
func DeviceBusy(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Code == errDeviceAlreadyInUse
}

func DeviceCount() (int, error) {
	var count C.int
	if err := cudaErr(C.accelqCudaGetDeviceCount(&count)); err != nil {
		return 0, err
	}
	return int(count), nil
}

func SetDevice(index int) error {
	return cudaErr(C.accelqCudaSetDevice(C.int(index)))
}

func DeviceSynchronize() error {
	return cudaErr(C.accelqCudaDeviceSynchronize())
}

func MemInfo() (free, total int64, err error) {
	var f, t C.ulonglong
	if err := cudaErr(C.accelqCudaMemGetInfo(&f, &t)); err != nil {
		return 0, 0, err
	}
	return int64(f), int64(t), nil
}

func NewStream() (Stream, error) {
	var stream C.cudaStream_t
	if err := cudaErr(C.accelqCudaStreamCreate(&stream)); err != nil {
		return Stream{}, err
	}
	return Stream{ptr: stream}, nil
}

func (s Stream) Destroy() error {
	if s.ptr == nil {
		return nil
	}
	return cudaErr(C.accelqCudaStreamDestroy(s.ptr))
}

func (s Stream) Synchronize() error {
	if s.ptr == nil {
		return nil
	}
	return cudaErr(C.accelqCudaStreamSynchronize(s.ptr))
}

func (s Stream) WaitEvent(ev Event) error {
	return cudaErr(C.accelqCudaStreamWaitEvent(s.ptr, ev.ptr))
}

func NewEvent() (Event, error) {
	var ev C.cudaEvent_t
	if err := cudaErr(C.accelqCudaEventCreate(&ev)); err != nil {
		return Event{}, err
	}
	return Event{ptr: ev}, nil
}

func (e Event) Destroy() error {
	if e.ptr == nil {
		return nil
	}
	return cudaErr(C.accelqCudaEventDestroy(e.ptr))
}

func (e Event) Record(s Stream) error {
	return cudaErr(C.accelqCudaEventRecord(e.ptr, s.ptr))
}

// Query returns true once all work captured by the last Record is done.
func (e Event) Query() (bool, error) {
	code := C.accelqCudaEventQuery(e.ptr)
	if code == errNotReady {
		return false, nil
	}
	if err := cudaErr(code); err != nil {
		return false, err
	}
	return true, nil
}

func (e Event) Synchronize() error {
	return cudaErr(C.accelqCudaEventSynchronize(e.ptr))
}

func AllocDevice(bytes int64) (DeviceBuffer, error) {
	if bytes <= 0 {
		return DeviceBuffer{}, fmt.Errorf("device alloc size must be > 0")
	}
	var ptr unsafe.Pointer
	if err := cudaErr(C.accelqCudaMalloc((*unsafe.Pointer)(&ptr), C.ulonglong(bytes))); err != nil {
		return DeviceBuffer{}, err
	}
	return DeviceBuffer{ptr: ptr}, nil
}

func (b DeviceBuffer) Free() error {
	if b.ptr == nil {
		return nil
	}
	return cudaErr(C.accelqCudaFree(b.ptr))
}

func (b DeviceBuffer) Ptr() unsafe.Pointer {
	return b.ptr
}

func AllocHostPinned(bytes int64) (HostBuffer, error) {
	if bytes <= 0 {
		return HostBuffer{}, fmt.Errorf("host alloc size must be > 0")
	}
	var ptr unsafe.Pointer
	if err := cudaErr(C.accelqCudaMallocHost((*unsafe.Pointer)(&ptr), C.ulonglong(bytes))); err != nil {
		return HostBuffer{}, err
	}
	return HostBuffer{ptr: ptr}, nil
}

func (b HostBuffer) Free() error {
	if b.ptr == nil {
		return nil
	}
	return cudaErr(C.accelqCudaFreeHost(b.ptr))
}

func (b HostBuffer) Ptr() unsafe.Pointer {
	return b.ptr
}

// MemcpyAsync copies between any two addresses; the direction is inferred
// from unified addressing.
func MemcpyAsync(dst, src unsafe.Pointer, bytes int64, stream Stream) error {
	if bytes <= 0 {
		return nil
	}
	return cudaErr(C.accelqCudaMemcpyAsync(dst, src, C.ulonglong(bytes), stream.ptr))
}

func Memcpy2DAsync(dst unsafe.Pointer, dpitch int64, src unsafe.Pointer, spitch int64, width, height int64, stream Stream) error {
	if width <= 0 || height <= 0 {
		return nil
	}
	return cudaErr(C.accelqCudaMemcpy2DAsync(dst, C.ulonglong(dpitch), src, C.ulonglong(spitch),
		C.ulonglong(width), C.ulonglong(height), stream.ptr))
}

func Memset2DAsync(dst unsafe.Pointer, pitch int64, value byte, width, height int64, stream Stream) error {
	if width <= 0 || height <= 0 {
		return nil
	}
	return cudaErr(C.accelqCudaMemset2DAsync(dst, C.ulonglong(pitch), C.int(value),
		C.ulonglong(width), C.ulonglong(height), stream.ptr))
}

func LoadModule(ptx string) (Module, error) {
	image := C.CString(ptx)
	defer C.free(unsafe.Pointer(image))
	var mod C.CUmodule
	if err := cuErr(C.accelqCuModuleLoadData(&mod, image)); err != nil {
		return Module{}, err
	}
	return Module{ptr: mod}, nil
}

func (m Module) Unload() error {
	if m.ptr == nil {
		return nil
	}
	return cuErr(C.accelqCuModuleUnload(m.ptr))
}

func (m Module) Function(name string) (Function, error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	var fn C.CUfunction
	if err := cuErr(C.accelqCuModuleGetFunction(&fn, m.ptr, cname)); err != nil {
		return Function{}, err
	}
	return Function{ptr: fn}, nil
}

// Launch enqueues fn with one raw byte image per kernel parameter. The
// images are copied to C memory that lives until the call returns, which is
// all cuLaunchKernel requires.
func Launch(fn Function, grid, block [3]uint32, stream Stream, params [][]byte) error {
	var argv unsafe.Pointer
	if len(params) > 0 {
		argv = C.malloc(C.size_t(len(params)) * C.size_t(unsafe.Sizeof(uintptr(0))))
		defer C.free(argv)
	}
	slots := unsafe.Slice((*unsafe.Pointer)(argv), len(params))
	for i, p := range params {
		buf := C.malloc(C.size_t(max(len(p), 1)))
		defer C.free(buf)
		if len(p) > 0 {
			C.memcpy(buf, unsafe.Pointer(&p[0]), C.size_t(len(p)))
		}
		slots[i] = buf
	}
	return cuErr(C.accelqCuLaunchKernel(fn.ptr,
		C.uint(grid[0]), C.uint(grid[1]), C.uint(grid[2]),
		C.uint(block[0]), C.uint(block[1]), C.uint(block[2]),
		stream.ptr, (*unsafe.Pointer)(argv)))
}

func cudaErr(code C.int) error {
	if code == 0 {
		return nil
	}
	msg := C.GoString(C.accelqCudaGetErrorString(C.cudaError_t(code)))
	return &Error{Code: int(code), Msg: msg}
}

func cuErr(code C.int) error {
	if code == 0 {
		return nil
	}
	return &Error{Code: int(code), Msg: "driver api call failed"}
}
