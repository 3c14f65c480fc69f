// Comfyflow compiles abstract image-generation requests into ComfyUI workflow graphs,
// resolves the model artifacts those graphs need, submits them to a ComfyUI backend
// and reports the outcome through a single normalized error model.
//
// The gateway package is the entry point; the remaining packages (graphapi, workflows,
// modelregistry, prompt, cache, client, services, comfyerr) can be used on their own.
package comfyflow
