//go:build windows

package webgpu

// One workgroup per row. Each invocation accumulates a strided partial sum
// of squares, the workgroup tree-reduces it in shared memory, and every
// invocation then writes its strided slice of the normalized output.
const rmsNormForwardShader = `
@group(0) @binding(0) var<storage, read> x: array<f32>;
@group(0) @binding(1) var<storage, read> w: array<f32>;
@group(0) @binding(2) var<storage, read_write> y: array<f32>;
@group(0) @binding(3) var<storage, read_write> rstd: array<f32>;

struct Params {
    m: u32,
    n: u32,
    eps: f32,
}
@group(0) @binding(4) var<uniform> params: Params;

var<workgroup> partial: array<f32, 256>;

@compute @workgroup_size(256)
fn main(
    @builtin(local_invocation_id) local_id: vec3<u32>,
    @builtin(workgroup_id) workgroup_id: vec3<u32>
) {
    let row = workgroup_id.x;
    if (row >= params.m) {
        return;
    }
    let tid = local_id.x;
    let base = row * params.n;

    var acc = 0.0;
    for (var i = tid; i < params.n; i = i + 256u) {
        let v = x[base + i];
        acc = acc + v * v;
    }
    partial[tid] = acc;
    workgroupBarrier();

    for (var s: u32 = 128u; s > 0u; s = s >> 1u) {
        if (tid < s) {
            partial[tid] = partial[tid] + partial[tid + s];
        }
        workgroupBarrier();
    }

    // Every invocation derives r from workgroup memory; a workgroupBarrier
    // orders workgroup address space only, so reading rstd back through the
    // storage buffer here would race with the store below.
    let variance = partial[0] / f32(params.n);
    let r = inverseSqrt(variance + params.eps);
    if (tid == 0u) {
        rstd[row] = r;
    }
    for (var i = tid; i < params.n; i = i + 256u) {
        y[base + i] = x[base + i] * r * w[i];
    }
}
`

// One workgroup per row. After the shared-memory reduction of c1 and c2
// every invocation writes its slice of dx, then folds its columns of dy*xhat
// into the row group's partial weight-gradient row with a compare-exchange
// add on bitcast floats. WGSL atomics are relaxed, so a lock over the
// accumulator would give no visibility ordering for plain loads and stores
// across workgroups; making every accumulation itself atomic avoids any
// cross-workgroup non-atomic sharing.
const rmsNormBackwardShader = `
@group(0) @binding(0) var<storage, read> dy: array<f32>;
@group(0) @binding(1) var<storage, read> x: array<f32>;
@group(0) @binding(2) var<storage, read> w: array<f32>;
@group(0) @binding(3) var<storage, read> rstd: array<f32>;
@group(0) @binding(4) var<storage, read_write> dx: array<f32>;
@group(0) @binding(5) var<storage, read_write> dw_partial: array<atomic<u32>>;

struct Params {
    m: u32,
    n: u32,
    groups: u32,
}
@group(0) @binding(6) var<uniform> params: Params;

var<workgroup> partial_c1: array<f32, 256>;
var<workgroup> partial_c2: array<f32, 256>;

@compute @workgroup_size(256)
fn main(
    @builtin(local_invocation_id) local_id: vec3<u32>,
    @builtin(workgroup_id) workgroup_id: vec3<u32>
) {
    let row = workgroup_id.x;
    if (row >= params.m) {
        return;
    }
    let tid = local_id.x;
    let base = row * params.n;
    let r = rstd[row];

    var c1 = 0.0;
    var c2 = 0.0;
    for (var i = tid; i < params.n; i = i + 256u) {
        let xhat = x[base + i] * r;
        let wdy = w[i] * dy[base + i];
        c1 = c1 + xhat * wdy;
        c2 = c2 + wdy;
    }
    partial_c1[tid] = c1;
    partial_c2[tid] = c2;
    workgroupBarrier();

    for (var s: u32 = 128u; s > 0u; s = s >> 1u) {
        if (tid < s) {
            partial_c1[tid] = partial_c1[tid] + partial_c1[tid + s];
            partial_c2[tid] = partial_c2[tid] + partial_c2[tid + s];
        }
        workgroupBarrier();
    }
    let mean_c1 = partial_c1[0] / f32(params.n);
    let mean_c2 = partial_c2[0] / f32(params.n);
    workgroupBarrier();

    for (var i = tid; i < params.n; i = i + 256u) {
        let xhat = x[base + i] * r;
        let wdy = w[i] * dy[base + i];
        dx[base + i] = (wdy - (xhat * mean_c1 + mean_c2)) * r;
    }

    let group = row % params.groups;
    let acc_base = group * params.n;

    for (var i = tid; i < params.n; i = i + 256u) {
        let contrib = dy[base + i] * x[base + i] * r;
        var old = atomicLoad(&dw_partial[acc_base + i]);
        loop {
            let updated = bitcast<u32>(bitcast<f32>(old) + contrib);
            let res = atomicCompareExchangeWeak(&dw_partial[acc_base + i], old, updated);
            if (res.exchanged) {
                break;
            }
            old = res.old_value;
        }
    }
}
`
