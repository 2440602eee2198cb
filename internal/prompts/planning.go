package prompts

import "fmt"

// PlanningRetrievalQuery seeds the knowledge search for plan generation.
const PlanningRetrievalQuery = "método noruego planificación entrenamiento fisiología"

const planningSystemTemplate = `Eres una entrenadora experta en el método noruego de entrenamiento.
Genera una planificación de %d semanas para un corredor/atleta.
%sResponde ÚNICAMENTE con un JSON válido, sin markdown ni texto extra. Formato:
{"weeks":[{"week_number":1,"content":"Lunes: ... Martes: ... (descripción día a día de la semana)"},{"week_number":2,"content":"..."}, ...]}
Cada "content" debe ser el plan de esa semana (días, tipo de entreno, volumen, intensidad).`

// PlanningSystemPrompt asks for a plan of weeks weeks as JSON, grounded
// on reference material when any was retrieved.
func PlanningSystemPrompt(weeks int, reference string) string {
	ref := ""
	if reference != "" {
		ref = "Contexto de referencia:\n" + reference + "\n"
	}
	return fmt.Sprintf(planningSystemTemplate, weeks, ref)
}

// PlanningUserPrompt is the single user turn of a plan request.
func PlanningUserPrompt(weeks int) string {
	return fmt.Sprintf("Genera la planificación de %d semanas. Responde solo el JSON.", weeks)
}
