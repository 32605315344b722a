// ComfyGrid operates a pool of GPU worker agents that execute generative-AI
// node-graph workflows.  The graphapi package understands the visual editor's
// graph format well enough to parse it, merge runtime arguments into it, and
// compile it into the flat instruction format workers execute directly.  The
// internal packages match incoming generation requests to exactly one capable,
// available worker with race-free claiming and live push notification.
package comfygrid
