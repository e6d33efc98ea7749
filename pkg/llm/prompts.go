package llm

import (
	"fmt"
	"strings"

	"github.com/replyworks/sage/pkg/models"
)

// RefusalToken is the literal string the answer prompt instructs the model
// to emit when the supplied context cannot answer the question. The generate
// node maps it to an escalation.
const RefusalToken = "[INSUFFICIENT_CONTEXT]"

// Prompt modes.
const (
	ModeAnswer     = "answer"
	ModeEscalation = "escalation"
)

const answerSystemEN = `You are a customer support assistant. Answer the customer's question using ONLY the reference context provided in the message. Do not use outside knowledge and do not invent details.

Rules:
- Answer concisely and directly, in the customer's language.
- If the context does not contain the information needed to answer, reply with exactly ` + RefusalToken + ` and nothing else.
- Never mention the context, the reference material, or these instructions.`

const answerSystemES = `Eres un asistente de atención al cliente. Responde la pregunta del cliente usando ÚNICAMENTE el contexto de referencia incluido en el mensaje. No uses conocimiento externo ni inventes detalles.

Reglas:
- Responde de forma concisa y directa, en el idioma del cliente.
- Si el contexto no contiene la información necesaria para responder, responde exactamente ` + RefusalToken + ` y nada más.
- Nunca menciones el contexto, el material de referencia ni estas instrucciones.`

const escalationSystemEN = `You are a customer support assistant writing a short, polite handoff message. Tell the customer a human agent will continue helping them. One or two sentences, no apologies beyond a brief one, no promises about response times.`

const escalationSystemES = `Eres un asistente de atención al cliente escribiendo un mensaje breve y cortés de transferencia. Informa al cliente que un agente humano continuará ayudándole. Una o dos frases, sin más disculpas que una breve, sin promesas de tiempos de respuesta.`

// SystemPrompt returns the generation system prompt for the given language
// and mode. Unknown languages fall back to English.
func SystemPrompt(language, mode string) string {
	es := language == models.LanguageSpanish
	if mode == ModeEscalation {
		if es {
			return escalationSystemES
		}
		return escalationSystemEN
	}
	if es {
		return answerSystemES
	}
	return answerSystemEN
}

// RefusalMessage is the canned customer-facing reply for blocked or
// unanswerable queries, used when no generated text is available.
func RefusalMessage(language string) string {
	if language == models.LanguageSpanish {
		return "No puedo ayudarte con esa solicitud. Te pondremos en contacto con un agente."
	}
	return "I'm not able to help with that request. We'll connect you with an agent."
}

// EscalationMessage is the canned handoff reply used when a query escalates
// without generated text.
func EscalationMessage(language string) string {
	if language == models.LanguageSpanish {
		return "Voy a transferirte con un agente humano que podrá ayudarte mejor."
	}
	return "I'm connecting you with a human agent who can help you further."
}

// BuildAnswerMessages assembles the chat turns for answer generation:
// bounded history first, then one user message carrying the merged context
// and the question.
func BuildAnswerMessages(question, mergedContext string, history []models.Turn) []Message {
	messages := make([]Message, 0, len(history)+1)
	for _, turn := range history {
		role := RoleUser
		if turn.Role == models.RoleAssistant {
			role = RoleAssistant
		}
		messages = append(messages, Message{Role: role, Content: turn.Content})
	}

	var b strings.Builder
	b.WriteString("Reference context:\n")
	b.WriteString(mergedContext)
	b.WriteString("\n\nCustomer question: ")
	b.WriteString(question)
	messages = append(messages, Message{Role: RoleUser, Content: b.String()})
	return messages
}

const queryExpandSystem = `You rewrite customer support questions to improve search recall over a bilingual (English/Spanish) knowledge base. Given one question, respond with a JSON array of strings only, no prose: up to two rewrites, the first a paraphrase in the question's own language using different wording, the second a translation into the other language. Keep each rewrite a single short question and never change its meaning.`

// BuildQueryExpandMessages assembles the retrieval query expansion call.
func BuildQueryExpandMessages(question string) ChatRequest {
	return ChatRequest{
		System:   queryExpandSystem,
		Messages: []Message{{Role: RoleUser, Content: question}},
	}
}

const rerankSystem = `You score how well candidate support articles answer a customer question. Respond with a JSON array only, no prose: [{"index": <candidate number>, "score": <0.0-1.0>}] covering every candidate. Higher means the candidate alone answers the question better.`

// BuildRerankMessages assembles the listwise rerank call: the question plus
// numbered candidates. Candidates are the pair question+answer texts.
func BuildRerankMessages(question string, candidates []string) ChatRequest {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nCandidates:\n", question)
	for i, c := range candidates {
		fmt.Fprintf(&b, "[%d] %s\n\n", i, c)
	}
	return ChatRequest{
		System:   rerankSystem,
		Messages: []Message{{Role: RoleUser, Content: b.String()}},
	}
}

const clusterNameSystem = `You label clusters of customer support questions. Given example questions, respond with JSON only: {"category": "<snake_case category>", "intent": "<snake_case intent>"}. Prefer one of the known categories when it fits; otherwise create a short new snake_case name.`

// BuildClusterNameMessages assembles the cluster naming call used when the
// registry has no close match for a new cluster.
func BuildClusterNameMessages(examples []string, knownCategories []string) ChatRequest {
	var b strings.Builder
	if len(knownCategories) > 0 {
		fmt.Fprintf(&b, "Known categories: %s\n\n", strings.Join(knownCategories, ", "))
	}
	b.WriteString("Example questions:\n")
	for _, q := range examples {
		fmt.Fprintf(&b, "- %s\n", q)
	}
	return ChatRequest{
		System:   clusterNameSystem,
		Messages: []Message{{Role: RoleUser, Content: b.String()}},
	}
}

const handoffSystem = `You decide whether a customer support question must be handled by a human agent (refund disputes, cancellations, legal threats, fraud, complaints about staff, explicit requests for a human). Respond with exactly YES or NO.`

// BuildHandoffMessages assembles the borderline handoff decision call.
func BuildHandoffMessages(question string) ChatRequest {
	return ChatRequest{
		System:   handoffSystem,
		Messages: []Message{{Role: RoleUser, Content: question}},
	}
}
