package handlers

import (
	"net/http"

	"github.com/BaSui01/perspectra/agent/persona"
	"github.com/BaSui01/perspectra/api"
	"github.com/BaSui01/perspectra/types"
)

// HandlePersonas lists the boardroom participants in display order,
// the human participant last.
// @Summary 角色列表
// @Tags 角色
// @Produce json
// @Success 200 {array} api.Persona
// @Router /api/v1/personas [get]
func HandlePersonas(w http.ResponseWriter, r *http.Request) {
	all := append(types.AutonomousPersonas(), types.PersonaUser)
	out := make([]api.Persona, 0, len(all))
	for _, p := range all {
		out = append(out, api.Persona{
			PersonaDetails: types.PersonaInfo(p),
			Autonomous:     p.IsAutonomous(),
			UsesSearch:     persona.UsesSearch(p),
		})
	}
	WriteSuccess(w, r, out)
}
